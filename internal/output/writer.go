package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

const (
	// DefaultRootName is used when no run name is configured.
	DefaultRootName = "algae_output"

	runMetaFile = "meta.json"
	indent      = "\t"
)

var (
	// ErrDocumentClosed is returned when writing to a file whose JSON document is complete.
	ErrDocumentClosed = errors.New("document already closed")

	// ErrNotOpen is returned for operations on a parameter without an open file.
	ErrNotOpen = errors.New("parameter file not open")

	// ErrNoRoot is returned when a position directory is requested before InitRoot.
	ErrNoRoot = errors.New("output root not initialized")
)

// WithLogger sets the logger used by the Writer.
func WithLogger(logger *slog.Logger) func(*Writer) {
	return func(w *Writer) {
		w.logger = logger
	}
}

// Writer lays out the output directory of a run and streams one JSON
// document per measured parameter in the current position directory. Each
// document is written incrementally and always completed by Close, so that
// an interrupted run still leaves parseable files. A Writer is not safe for
// concurrent use.
type Writer struct {
	root     string
	current  string
	posIndex int

	files  map[string]*document
	logger *slog.Logger
}

// NewWriter creates a Writer.
func NewWriter(options ...func(*Writer)) *Writer {
	w := Writer{
		files:  make(map[string]*document),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&w)
	}

	return &w
}

// InitRoot creates <dir>/<name>_<idx> using the first index not yet taken
// and returns its path.
func (w *Writer) InitRoot(dir, name string) (string, error) {
	if name == "" {
		name = DefaultRootName
	}

	for idx := 0; ; idx++ {
		path := filepath.Join(dir, name+"_"+strconv.Itoa(idx))
		err := os.Mkdir(path, 0o755)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("creating output root: %w", err)
		}

		w.root = path
		w.current = ""
		w.posIndex = 0
		w.logger.Debug("output root created", slog.String("path", path))

		return path, nil
	}
}

// Root returns the current output root.
func (w *Writer) Root() string {
	return w.root
}

// WriteRunMeta writes meta.json into the output root.
func (w *Writer) WriteRunMeta(meta RunMeta) error {
	if w.root == "" {
		return ErrNoRoot
	}

	p, err := json.MarshalIndent(meta, "", indent)
	if err != nil {
		return fmt.Errorf("marshaling run metadata: %w", err)
	}

	if err = os.WriteFile(filepath.Join(w.root, runMetaFile), append(p, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing run metadata: %w", err)
	}
	return nil
}

// NewPositionDir creates the next posN directory under the root and makes it current.
func (w *Writer) NewPositionDir() (string, error) {
	if w.root == "" {
		return "", ErrNoRoot
	}

	path := filepath.Join(w.root, "pos"+strconv.Itoa(w.posIndex))
	if err := os.Mkdir(path, 0o755); err != nil {
		return "", fmt.Errorf("creating position directory: %w", err)
	}

	w.current = path
	w.posIndex++

	return path, nil
}

// OpenParameter creates <param>.json in the current position directory and
// writes its header. Any file still open for the parameter is closed first.
func (w *Writer) OpenParameter(param string, meta Meta, freqs []float64) error {
	if w.current == "" {
		return ErrNoRoot
	}
	if _, ok := w.files[param]; ok {
		if err := w.Close(param); err != nil {
			return err
		}
	}

	path := filepath.Join(w.current, param+".json")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	doc := newDocument(f)
	if err = doc.begin(meta, freqs); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s header: %w", param, err)
	}

	w.files[param] = doc
	return nil
}

// WriteSweep appends the entry t{tran}r{refl} to the parameter's data object.
// When isLast is set the data object and the document are closed.
func (w *Writer) WriteSweep(param string, tran, refl int, real, imag []float64, isLast bool) error {
	doc, ok := w.files[param]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotOpen, param)
	}

	key := fmt.Sprintf("t%dr%d", tran, refl)
	if err := doc.entry(key, real, imag); err != nil {
		return fmt.Errorf("writing %s %s: %w", param, key, err)
	}
	if isLast {
		if err := doc.end(); err != nil {
			return fmt.Errorf("closing %s data: %w", param, err)
		}
	}

	return nil
}

// Close completes the parameter's document, if needed, and closes the file.
func (w *Writer) Close(param string) error {
	doc, ok := w.files[param]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotOpen, param)
	}
	delete(w.files, param)

	return doc.close()
}

// CloseAll closes every open parameter file.
func (w *Writer) CloseAll() error {
	params := w.Open()

	var errs []error
	for _, param := range params {
		if err := w.Close(param); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", param, err))
		}
	}

	return errors.Join(errs...)
}

// Open returns the parameters with an open file, sorted.
func (w *Writer) Open() []string {
	params := make([]string, 0, len(w.files))
	for param := range w.files {
		params = append(params, param)
	}
	sort.Strings(params)
	return params
}

// Entries returns the number of entries written to the parameter's open file.
func (w *Writer) Entries(param string) int {
	if doc, ok := w.files[param]; ok {
		return doc.entries
	}
	return 0
}
