package server

import (
	v "github.com/go-ozzo/ozzo-validation/v4"
)

// TriggerRunBody is the request body for the run trigger endpoints.
type TriggerRunBody struct {
	APISecret string `json:"api_secret"`
}

func (b TriggerRunBody) Validate() error {
	return v.ValidateStruct(&b,
		v.Field(&b.APISecret, v.Required),
	)
}
