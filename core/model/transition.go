package model

// Transition is published once per effective state mutation.
type Transition struct {
	Old ChargerState `json:"old"`
	New ChargerState `json:"new"`
}
