package middleware

import (
	"github.com/gin-gonic/gin/binding"
	playground "github.com/go-playground/validator/v10"

	"github.com/jwalitptl/coach-realtime/pkg/validator"
)

// UseJSONFieldNames makes gin's binding validator report fields by their
// json or form name, matching the WebSocket payload errors.
func UseJSONFieldNames() {
	if v, ok := binding.Validator.Engine().(*playground.Validate); ok {
		v.RegisterTagNameFunc(validator.JSONTagName)
	}
}
