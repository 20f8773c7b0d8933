package handlers

import (
	"encoding/json"
	"errors"

	"gorm.io/datatypes"
)

var errMissingTargetID = errors.New("target_id query parameter required")

func jsonMarshal(v map[string]interface{}) (datatypes.JSON, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
