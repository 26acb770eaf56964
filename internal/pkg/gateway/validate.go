package gateway

import "github.com/go-playground/validator/v10"

// validate checks the parsed provider payload shapes.
var validate = validator.New()
