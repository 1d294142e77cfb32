package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/nvandessel/funnelsim/internal/models"
)

var (
	userHeader = []string{"ph1_counts", "steps_since_last_ph1"}
	itemHeader = []string{"user", "step", "item", "ph1_scores", "ph2_scores", "ph3_scores"}
)

// UserFile returns the path of a trial's initial user states.
func UserFile(dir string, trial int) string {
	return filepath.Join(dir, fmt.Sprintf("user_%d.csv", trial))
}

// ItemFile returns the path of a trial's item scores.
func ItemFile(dir string, trial int) string {
	return filepath.Join(dir, fmt.Sprintf("item_%d.csv", trial))
}

// CSVLoader reads trial data from a directory of generator CSV files.
//
// Only the first Users rows of the user file are read. Item rows outside the
// configured grid (slot >= Items, user >= Users, step >= Steps) are dropped
// so a larger dataset can drive a smaller experiment.
type CSVLoader struct {
	dir         string
	dims        Dimensions
	allowSparse bool
}

// NewCSVLoader creates a loader for dir.
func NewCSVLoader(dir string, dims Dimensions, allowSparse bool) *CSVLoader {
	return &CSVLoader{dir: dir, dims: dims, allowSparse: allowSparse}
}

// Dir returns the directory the loader reads from.
func (l *CSVLoader) Dir() string {
	return l.dir
}

// Load reads and validates the data of one trial.
func (l *CSVLoader) Load(ctx context.Context, trial int) (*models.TrialData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	users, err := readFile(UserFile(l.dir, trial), func(r io.Reader) ([]models.InitialState, error) {
		return readUsers(r, trial, l.dims.Users)
	})
	if err != nil {
		return nil, err
	}

	items, err := readFile(ItemFile(l.dir, trial), func(r io.Reader) ([]models.Item, error) {
		return readItems(r, trial, l.dims)
	})
	if err != nil {
		return nil, err
	}

	data := &models.TrialData{Trial: trial, Users: users, Items: items}
	if err := Validate(data, l.dims, l.allowSparse); err != nil {
		return nil, err
	}
	return data, nil
}

func readFile[T any](path string, read func(io.Reader) (T, error)) (T, error) {
	f, err := os.Open(path)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("opening trial data: %w", err)
	}
	defer f.Close()

	v, err := read(f)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return v, nil
}

func newReader(r io.Reader, fields int) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = fields
	cr.ReuseRecord = true
	return cr
}

func checkHeader(cr *csv.Reader, trial int, want []string) error {
	header, err := cr.Read()
	if err != nil {
		return malformed(trial, cr, fmt.Errorf("reading header: %w", err))
	}
	if !slices.Equal(header, want) {
		return &models.DataShapeError{Trial: trial, Kind: models.ShapeMalformed,
			Detail: fmt.Sprintf("header %v, want %v", header, want)}
	}
	return nil
}

func malformed(trial int, cr *csv.Reader, err error) error {
	line, _ := cr.FieldPos(0)
	return &models.DataShapeError{Trial: trial, Kind: models.ShapeMalformed,
		Detail: fmt.Sprintf("line %d: %v", line, err)}
}

// readUsers reads at most limit initial states.
func readUsers(r io.Reader, trial, limit int) ([]models.InitialState, error) {
	cr := newReader(r, len(userHeader))
	if err := checkHeader(cr, trial, userHeader); err != nil {
		return nil, err
	}

	users := make([]models.InitialState, 0, limit)
	for len(users) < limit {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, malformed(trial, cr, err)
		}

		count, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, malformed(trial, cr, err)
		}
		steps, err := strconv.Atoi(rec[1])
		if err != nil {
			return nil, malformed(trial, cr, err)
		}
		users = append(users, models.InitialState{ConversionCount: count, StepsSinceLastConversion: steps})
	}
	return users, nil
}

// readItems reads every item row inside dims.
func readItems(r io.Reader, trial int, dims Dimensions) ([]models.Item, error) {
	cr := newReader(r, len(itemHeader))
	if err := checkHeader(cr, trial, itemHeader); err != nil {
		return nil, err
	}

	items := make([]models.Item, 0, dims.Users*dims.Steps*dims.Items)
	var ints [3]int
	var scores [3]float64
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, malformed(trial, cr, err)
		}

		for i := range ints {
			if ints[i], err = strconv.Atoi(rec[i]); err != nil {
				return nil, malformed(trial, cr, err)
			}
		}
		user, step, slot := ints[0], ints[1], ints[2]
		if user >= dims.Users || step >= dims.Steps || slot >= dims.Items {
			continue
		}

		for i := range scores {
			if scores[i], err = strconv.ParseFloat(rec[3+i], 64); err != nil {
				return nil, malformed(trial, cr, err)
			}
		}
		items = append(items, models.Item{
			User:        user,
			Step:        step,
			Slot:        slot,
			Stage1Score: scores[0],
			Stage2Score: scores[1],
			Stage3Score: scores[2],
		})
	}
	return items, nil
}

// WriteTrial writes data in the generator CSV layout under dir.
func WriteTrial(dir string, data *models.TrialData) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	err := writeFile(UserFile(dir, data.Trial), userHeader, func(w *csv.Writer) error {
		for _, u := range data.Users {
			if err := w.Write([]string{
				strconv.Itoa(u.ConversionCount),
				strconv.Itoa(u.StepsSinceLastConversion),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return writeFile(ItemFile(dir, data.Trial), itemHeader, func(w *csv.Writer) error {
		for _, it := range data.Items {
			if err := w.Write([]string{
				strconv.Itoa(it.User),
				strconv.Itoa(it.Step),
				strconv.Itoa(it.Slot),
				formatScore(it.Stage1Score),
				formatScore(it.Stage2Score),
				formatScore(it.Stage3Score),
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeFile(path string, header []string, rows func(*csv.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	if err := rows(w); err != nil {
		return fmt.Errorf("failed to write CSV row: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	return f.Close()
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
