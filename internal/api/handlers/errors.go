package handlers

import "errors"

var (
	errBadBatch  = errors.New("invalid email batch")
	errBadColumn = errors.New("email_column_index is out of range for the uploaded csv")
	errCSVEmpty  = errors.New("csv upload contains no emails")
)
