package protocol

import "fmt"

// AddComponent is the decoded payload of an "add-component" message.
type AddComponent struct {
	ComponentID string
	ParentID    string
	Type        string
	Props       map[string]any
}

// ExecRPC is the decoded payload of an "exec-rpc" message.
type ExecRPC struct {
	ComponentID string
	Method      string
	Args        []any
}

// StoreSet is the decoded payload of a "store-set" message.
type StoreSet struct {
	ComponentID string
	Property    string
	Value       any
}

// ParseAddComponent decodes an add-component payload:
// [component_id, parent_id, type_name, initial_props].
func ParseAddComponent(payload any) (*AddComponent, error) {
	fields, err := payloadFields(TopicAddComponent, payload, 4)
	if err != nil {
		return nil, err
	}
	ac := &AddComponent{}
	if ac.ComponentID, err = stringField(TopicAddComponent, "component_id", fields[0]); err != nil {
		return nil, err
	}
	if ac.ParentID, err = stringField(TopicAddComponent, "parent_id", fields[1]); err != nil {
		return nil, err
	}
	if ac.Type, err = stringField(TopicAddComponent, "type_name", fields[2]); err != nil {
		return nil, err
	}
	switch props := fields[3].(type) {
	case nil:
		ac.Props = map[string]any{}
	case map[string]any:
		ac.Props = props
	default:
		return nil, fmt.Errorf("protocol: %s: initial_props must be an object, got %T", TopicAddComponent, fields[3])
	}
	return ac, nil
}

// ParseExecRPC decodes an exec-rpc payload: [component_id, rpc_name, args].
func ParseExecRPC(payload any) (*ExecRPC, error) {
	fields, err := payloadFields(TopicExecRPC, payload, 3)
	if err != nil {
		return nil, err
	}
	er := &ExecRPC{}
	if er.ComponentID, err = stringField(TopicExecRPC, "component_id", fields[0]); err != nil {
		return nil, err
	}
	if er.Method, err = stringField(TopicExecRPC, "rpc_name", fields[1]); err != nil {
		return nil, err
	}
	switch args := fields[2].(type) {
	case nil:
		er.Args = nil
	case []any:
		er.Args = args
	default:
		return nil, fmt.Errorf("protocol: %s: args must be an array, got %T", TopicExecRPC, fields[2])
	}
	return er, nil
}

// ParseStoreSet decodes a store-set payload:
// [component_id, property_name, value].
func ParseStoreSet(payload any) (*StoreSet, error) {
	fields, err := payloadFields(TopicStoreSet, payload, 3)
	if err != nil {
		return nil, err
	}
	ss := &StoreSet{Value: fields[2]}
	if ss.ComponentID, err = stringField(TopicStoreSet, "component_id", fields[0]); err != nil {
		return nil, err
	}
	if ss.Property, err = stringField(TopicStoreSet, "property_name", fields[1]); err != nil {
		return nil, err
	}
	return ss, nil
}

// ParseDestroyComponent decodes a destroy-component payload: [component_id].
func ParseDestroyComponent(payload any) (string, error) {
	fields, err := payloadFields(TopicDestroyComponent, payload, 1)
	if err != nil {
		return "", err
	}
	return stringField(TopicDestroyComponent, "component_id", fields[0])
}

func payloadFields(topic string, payload any, n int) ([]any, error) {
	fields, ok := payload.([]any)
	if !ok {
		return nil, fmt.Errorf("protocol: %s: payload must be an array, got %T", topic, payload)
	}
	if len(fields) != n {
		return nil, fmt.Errorf("protocol: %s: expected %d fields, got %d", topic, n, len(fields))
	}
	return fields, nil
}

func stringField(topic, name string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("protocol: %s: %s must be a string, got %T", topic, name, v)
	}
	return s, nil
}
