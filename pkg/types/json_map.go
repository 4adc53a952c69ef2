package types

// JSONMap stores an opaque JSON object, such as a raw gateway response kept
// for audit and dispute lookup.
type JSONMap map[string]any
