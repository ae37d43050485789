package httpdto

// Response is the uniform JSON body for every REST endpoint. Success
// responses carry Data; failures carry the human message plus the
// machine code the socket protocol uses for the same error family.
type Response[T any] struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Data    T      `json:"data,omitempty"`
}

func NewSuccessResponse[T any](data T) Response[T] {
	return Response[T]{Success: true, Data: data}
}

func NewErrorResponse(msg, code string) Response[any] {
	return Response[any]{Success: false, Error: msg, Code: code}
}
