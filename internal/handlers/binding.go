package handlers

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

var fieldNames = map[string]string{
	"Color":      "color",
	"FaceToken1": "face_token1",
	"FaceToken2": "face_token2",
}

// bindingError turns a gin binding failure into a field level error body.
func bindingError(err error) gin.H {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field, ok := fieldNames[fe.Field()]
		if !ok {
			field = strings.ToLower(fe.Field())
		}
		message := "This field is required."
		if fe.Tag() != "required" {
			message = "Invalid value."
		}
		return gin.H{"error": message, "field": field}
	}
	return gin.H{"error": err.Error()}
}
