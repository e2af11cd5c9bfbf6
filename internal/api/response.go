package api

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorData  `json:"error,omitempty"`
}

type ErrorData struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// AddressResponse is the body of a successful reverse lookup.
type AddressResponse struct {
	Latitude  float64     `json:"latitude"`
	Longitude float64     `json:"longitude"`
	Summary   string      `json:"summary"`
	Address   interface{} `json:"address"`
}

// HealthResponse reports process liveness and bridge load.
type HealthResponse struct {
	Status            string `json:"status"`
	Redis             string `json:"redis"`
	LocalConnections  int    `json:"local_connections"`
	ActiveConnections int    `json:"active_connections"`
	Time              string `json:"time"`
}

func SuccessResponse(data interface{}) Response {
	return Response{
		Success: true,
		Data:    data,
	}
}

func ErrorResponse(message, code string) Response {
	return Response{
		Success: false,
		Error: &ErrorData{
			Message: message,
			Code:    code,
		},
	}
}
