package apperr

import (
	"encoding/json"
	"net/http"
)

type Response struct {
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func SuccessJSON(w http.ResponseWriter, data any, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(Response{Data: data, Message: message})
}

// ErrorJSON err 會先經過 From 轉換
func ErrorJSON(w http.ResponseWriter, err error) {
	appErr := From(err)
	if appErr == nil {
		appErr = New(InternalErrorCode, "internal server error")
	}
	code, ok := ErrStrMap[appErr.Code]
	if !ok {
		code = ErrStrMap[InternalErrorCode]
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(int(appErr.Code))
	json.NewEncoder(w).Encode(ResponseError{Code: code, Message: appErr.Message})
}
