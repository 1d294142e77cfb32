// Package constants provides named constants used throughout the funnelsim codebase.
// This centralizes experiment defaults and magic numbers in one place.
package constants

// Experiment dimension defaults.
const (
	// DefaultUsers is the number of simulated users per trial.
	DefaultUsers = 100

	// DefaultItems is the number of candidate item slots per (user, step).
	DefaultItems = 10

	// DefaultTopK is how many ranked items are offered to a user each step.
	DefaultTopK = 1

	// DefaultSteps is the number of discrete steps in one trial.
	DefaultSteps = 50

	// DefaultTrials is the number of independent trials in one run.
	DefaultTrials = 100

	// DefaultSeed is the base random seed. Trial i is seeded with DefaultSeed+i.
	DefaultSeed = 42
)

// User state score caps.
const (
	// DefaultMaxConversions caps the conversion count used in scoring.
	// At the cap the magnitude term reaches its maximum of 2.0.
	DefaultMaxConversions = 100

	// DefaultMaxSteps caps steps-since-last-conversion used in scoring.
	// At the cap the decay term is exactly DecayFloor.
	DefaultMaxSteps = 100

	// BaseStateScore is the propensity of a user with no history, (0, 0).
	BaseStateScore = 1.0

	// MaxStateScore is the upper bound of the propensity score.
	MaxStateScore = 2.0

	// DecayFloor is the decay term reached after MaxSteps steps without a conversion.
	DecayFloor = 0.1
)

// Funnel defaults.
const (
	// DefaultStageExponent is the power applied to the propensity score when
	// scaling a stage probability. The cube root spreads the effect of the
	// propensity evenly over the three stages.
	DefaultStageExponent = 1.0 / 3.0

	// DefaultLambda is the default weight of the lookahead term in the proposed objective.
	DefaultLambda = 0.1

	// NumStages is the number of funnel stages.
	NumStages = 3
)

// Dataset generator defaults, matching the reference data generator.
const (
	// MaxInitialConversions is the inclusive upper bound for generated initial conversion counts.
	MaxInitialConversions = 50

	// MaxInitialSteps is the inclusive upper bound for generated steps since last conversion.
	MaxInitialSteps = 50

	// GeneratedScoreScale scales uniform [0, 1) draws into stage scores.
	GeneratedScoreScale = 0.1

	// GeneratedScoreDecimals is the number of decimals generated scores are rounded to.
	GeneratedScoreDecimals = 4
)

// Output locations.
const (
	// DefaultDataDir holds per-trial user_{n}.csv / item_{n}.csv files.
	DefaultDataDir = "data"

	// DefaultResultsDir holds per-run reports, split by decay flag.
	DefaultResultsDir = "results"

	// StateDirName is the per-project directory for the run database and logs.
	StateDirName = ".funnelsim"
)
