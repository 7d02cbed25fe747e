package demo

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/absmach/flclient/ml"
	pkgerrors "github.com/absmach/flclient/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var errNotSetUp = errors.New("data module is not set up")

type DataConfig struct {
	NumSamples  int     `json:"num_samples"`
	NumFeatures int     `json:"num_features"`
	NumClasses  int     `json:"num_classes"`
	ValFraction float64 `json:"val_fraction"`
	BatchSize   int     `json:"batch_size"`
	Spread      float64 `json:"spread"`
	Seed        uint64  `json:"seed"`
}

func DefaultDataConfig() DataConfig {
	return DataConfig{
		NumSamples:  600,
		NumFeatures: 8,
		NumClasses:  3,
		ValFraction: 0.2,
		BatchSize:   32,
		Spread:      1,
		Seed:        42,
	}
}

func (c DataConfig) Validate() error {
	var errs []error
	if c.NumSamples <= 0 {
		errs = append(errs, fmt.Errorf("num_samples must be positive, got %d", c.NumSamples))
	}
	if c.NumFeatures <= 0 {
		errs = append(errs, fmt.Errorf("num_features must be positive, got %d", c.NumFeatures))
	}
	if c.NumClasses < 2 {
		errs = append(errs, fmt.Errorf("num_classes must be at least 2, got %d", c.NumClasses))
	}
	if c.ValFraction < 0 || c.ValFraction >= 1 {
		errs = append(errs, fmt.Errorf("val_fraction must be in [0, 1), got %g", c.ValFraction))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", c.BatchSize))
	}
	if c.Spread <= 0 {
		errs = append(errs, fmt.Errorf("spread must be positive, got %g", c.Spread))
	}

	return errors.Join(errs...)
}

// DataModule generates gaussian blobs, one center per class.
type DataModule struct {
	cfg   DataConfig
	train *Dataset
	val   *Dataset
}

var _ ml.DataModule = (*DataModule)(nil)

func NewDataModule(cfg DataConfig) (*DataModule, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &DataModule{cfg: cfg}, nil
}

func (d *DataModule) Setup(stage string) error {
	if stage != ml.StageFit && stage != ml.StageValidate {
		return fmt.Errorf("setup: unknown stage %q: %w", stage, pkgerrors.ErrInvalidValue)
	}

	c := d.cfg
	rng := rand.New(rand.NewPCG(c.Seed, c.Seed+1))

	centers := make([][]float64, c.NumClasses)
	for k := range centers {
		centers[k] = make([]float64, c.NumFeatures)
		for j := range centers[k] {
			centers[k][j] = rng.NormFloat64() * 3
		}
	}

	features := make([]float64, c.NumSamples*c.NumFeatures)
	labels := make([]int, c.NumSamples)
	for i := range c.NumSamples {
		k := i % c.NumClasses
		labels[i] = k
		for j := range c.NumFeatures {
			features[i*c.NumFeatures+j] = centers[k][j] + rng.NormFloat64()*c.Spread
		}
	}

	perm := rng.Perm(c.NumSamples)
	nVal := int(float64(c.NumSamples) * c.ValFraction)
	d.val = subset(features, labels, c.NumFeatures, perm[:nVal])
	d.train = subset(features, labels, c.NumFeatures, perm[nVal:])

	return nil
}

func (d *DataModule) TrainLoader() (ml.Loader, error) {
	if d.train == nil {
		return nil, errNotSetUp
	}

	return NewLoader(d.train, d.cfg.BatchSize), nil
}

func (d *DataModule) ValLoader() (ml.Loader, error) {
	if d.val == nil {
		return nil, errNotSetUp
	}

	return NewLoader(d.val, d.cfg.BatchSize), nil
}

func subset(features []float64, labels []int, cols int, idx []int) *Dataset {
	ds := &Dataset{cols: cols, labels: make([]int, len(idx))}
	if len(idx) == 0 {
		return ds
	}

	data := make([]float64, len(idx)*cols)
	for r, i := range idx {
		copy(data[r*cols:(r+1)*cols], features[i*cols:(i+1)*cols])
		ds.labels[r] = labels[i]
	}
	ds.features = mat.NewDense(len(idx), cols, data)

	return ds
}

// Dataset is an in-memory feature matrix with one label per row.
type Dataset struct {
	features *mat.Dense
	labels   []int
	cols     int
}

func (ds *Dataset) Len() int {
	return len(ds.labels)
}

// Loader walks a Dataset in fixed-size batches; the last batch may be short.
type Loader struct {
	ds        *Dataset
	batchSize int
	cursor    int
}

var _ ml.Loader = (*Loader)(nil)

func NewLoader(ds *Dataset, batchSize int) *Loader {
	return &Loader{ds: ds, batchSize: batchSize}
}

func (l *Loader) Len() int {
	return (l.ds.Len() + l.batchSize - 1) / l.batchSize
}

func (l *Loader) Reset() {
	l.cursor = 0
}

func (l *Loader) Next() (ml.Batch, bool) {
	n := l.ds.Len()
	if l.cursor >= n {
		return ml.Batch{}, false
	}

	end := min(l.cursor+l.batchSize, n)
	b := ml.Batch{
		Features: l.ds.features.Slice(l.cursor, end, 0, l.ds.cols).(*mat.Dense),
		Labels:   l.ds.labels[l.cursor:end],
	}
	l.cursor = end

	return b, true
}
