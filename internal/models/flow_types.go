// Package models defines the dialogue enumerations shared by the engine, stores and transports.
package models

import (
	"encoding/json"
	"fmt"
)

// StateType identifies the question a session is waiting on.
type StateType int

// Dialogue states. Phase A is shared, phase B splits per category, Completed is absorbing.
const (
	StateInitial StateType = iota
	StateLanguageSelection
	StateCategorySelection
	StateDealershipName
	StateDealershipAddress
	StateDealershipCooperation
	StateCarNumber
	StateCity
	StateMileage
	StateIDDocument
	StateTechPassport
	StateCompleted
)

var stateNames = map[StateType]string{
	StateInitial:               "INITIAL",
	StateLanguageSelection:     "LANGUAGE_SELECTION",
	StateCategorySelection:     "CATEGORY_SELECTION",
	StateDealershipName:        "DEALERSHIP_NAME",
	StateDealershipAddress:     "DEALERSHIP_ADDRESS",
	StateDealershipCooperation: "DEALERSHIP_COOPERATION",
	StateCarNumber:             "CAR_NUMBER",
	StateCity:                  "CITY",
	StateMileage:               "MILEAGE",
	StateIDDocument:            "ID_DOCUMENT",
	StateTechPassport:          "TECH_PASSPORT",
	StateCompleted:             "COMPLETED",
}

func (s StateType) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATE(%d)", int(s))
}

// MarshalJSON encodes the state by name so cached sessions stay readable.
func (s StateType) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *StateType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for k, v := range stateNames {
		if v == name {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", name)
}

// Category is the branch a user picked at CategorySelection.
type Category string

const (
	CategoryUnknown    Category = "unknown"
	CategoryDealership Category = "dealership"
	CategoryClient     Category = "client"
)

// Language is the reply language of a session.
type Language string

const (
	LanguageRU Language = "ru"
	LanguageKZ Language = "kz"
)

// IsValid reports whether l is one of the supported languages.
func (l Language) IsValid() bool {
	return l == LanguageRU || l == LanguageKZ
}

// FieldKey names a collected answer.
type FieldKey string

const (
	FieldName         FieldKey = "name"
	FieldAddress      FieldKey = "address"
	FieldCooperates   FieldKey = "already_cooperates"
	FieldCarNumber    FieldKey = "car_number"
	FieldCity         FieldKey = "city"
	FieldMileage      FieldKey = "mileage"
	FieldIDDocument   FieldKey = "id_document"
	FieldTechPassport FieldKey = "tech_passport"
)

// Cooperation answers stored under FieldCooperates.
const (
	AnswerYes = "yes"
	AnswerNo  = "no"
)

// CategoryFields lists the keys a session of the given category may hold.
func CategoryFields(c Category) []FieldKey {
	switch c {
	case CategoryDealership:
		return []FieldKey{FieldName, FieldAddress, FieldCooperates, FieldIDDocument, FieldTechPassport}
	case CategoryClient:
		return []FieldKey{FieldCarNumber, FieldCity, FieldMileage, FieldIDDocument, FieldTechPassport}
	default:
		return nil
	}
}
