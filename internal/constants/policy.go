package constants

// Policy names the ranking objective a run was evaluated under.
type Policy string

const (
	// PolicyBaseline ranks by the product of the three stage scores.
	PolicyBaseline Policy = "baseline"

	// PolicyProposed adds the lambda-weighted lookahead term to the baseline objective.
	PolicyProposed Policy = "proposed"
)

// Valid returns true if the policy is a recognized value.
func (p Policy) Valid() bool {
	switch p {
	case PolicyBaseline, PolicyProposed:
		return true
	}
	return false
}

// String returns the string representation of the policy.
func (p Policy) String() string {
	return string(p)
}

// PolicyFor returns the policy a lambda value selects. Zero is exactly baseline.
func PolicyFor(lambda float64) Policy {
	if lambda == 0 {
		return PolicyBaseline
	}
	return PolicyProposed
}
