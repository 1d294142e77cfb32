package models

// InitialState is the exogenous starting state of one user in one trial.
// Users are identified by their position in the trial's state slice.
type InitialState struct {
	ConversionCount          int `json:"conversion_count" yaml:"conversion_count"`
	StepsSinceLastConversion int `json:"steps_since_last_conversion" yaml:"steps_since_last_conversion"`
}

// User is the mutable per-trial record of a simulated user.
// It is owned by the trial simulator and discarded when the trial ends.
type User struct {
	// ID is unique within a trial and equals the user's index.
	ID int `json:"id"`

	// ConversionCount is the number of stage-1 conversions so far.
	// It never decreases within a trial.
	ConversionCount int `json:"conversion_count"`

	// StepsSinceLastConversion resets to 0 on a stage-1 conversion and
	// increments by 1 on every miss.
	StepsSinceLastConversion int `json:"steps_since_last_conversion"`

	// Finished is set once the user reaches stage 3. It is never cleared.
	Finished bool `json:"finished"`
}

// NewUsers builds a fresh user arena from initial states, indexed by id.
func NewUsers(states []InitialState) []User {
	users := make([]User, len(states))
	for i, s := range states {
		users[i] = User{
			ID:                       i,
			ConversionCount:          s.ConversionCount,
			StepsSinceLastConversion: s.StepsSinceLastConversion,
		}
	}
	return users
}

// RecordMiss applies a stage-1 miss.
func (u *User) RecordMiss() {
	u.StepsSinceLastConversion++
}

// RecordConversion applies a stage-1 hit. Stage 2 and 3 outcomes do not
// change counters; a stage-3 hit finishes the user.
func (u *User) RecordConversion(completed bool) {
	u.ConversionCount++
	u.StepsSinceLastConversion = 0
	if completed {
		u.Finished = true
	}
}
