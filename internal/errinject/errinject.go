// Package errinject implements the fixed table of canned upstream error
// responses a session can be configured to short-circuit to, bypassing
// the real upstream entirely. Checked by the proxy before dialect
// dispatch, so it applies to both the native and framed surfaces.
package errinject

// ErrorType describes one canned error response.
type ErrorType struct {
	Key      string
	Label    string
	Status   int
	DataJSON string
}

var errorTypes = []ErrorType{
	{
		Key:      "invalid_request_error",
		Label:    "Context Window Exceeded (400)",
		Status:   400,
		DataJSON: `{"type":"error","error":{"type":"invalid_request_error","message":"prompt is too long: 201234 tokens > 200000 maximum"}}`,
	},
	{
		Key:      "permission_error",
		Label:    "Permission Error (403)",
		Status:   403,
		DataJSON: `{"type":"error","error":{"type":"permission_error","message":"Your API key does not have permission to use the specified resource."}}`,
	},
	{
		Key:      "not_found_error",
		Label:    "Not Found (404)",
		Status:   404,
		DataJSON: `{"type":"error","error":{"type":"not_found_error","message":"The requested resource could not be found."}}`,
	},
	{
		Key:      "request_too_large",
		Label:    "Request Too Large (413)",
		Status:   413,
		DataJSON: `{"type":"error","error":{"type":"request_too_large","message":"Request exceeds the maximum allowed number of bytes."}}`,
	},
}

// FindByKey returns the error type registered under key, and whether one
// was found.
func FindByKey(key string) (ErrorType, bool) {
	for _, e := range errorTypes {
		if e.Key == key {
			return e, true
		}
	}
	return ErrorType{}, false
}

// All returns every registered error type, for populating a selection UI.
func All() []ErrorType {
	return errorTypes
}
