package db

import "fmt"

// Common errors
var (
	ErrInvalidInput       = fmt.Errorf("invalid input")
	ErrDatabaseConnection = fmt.Errorf("database connection error")
	ErrProjectNotFound    = fmt.Errorf("project not found")
	ErrAnalysisNotFound   = fmt.Errorf("analysis not found")
	ErrAnalysisExists     = fmt.Errorf("analysis already exists for version")
)
