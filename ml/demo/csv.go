package demo

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/absmach/flclient/ml"
	pkgerrors "github.com/absmach/flclient/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// CSVConfig describes a pair of CSV files with numeric features and an
// integer class label. Relative paths are resolved against the client root dir.
type CSVConfig struct {
	TrainPath   string `json:"train_path"`
	ValPath     string `json:"val_path"`
	BatchSize   int    `json:"batch_size"`
	LabelColumn int    `json:"label_column"`
	Header      bool   `json:"header"`
}

func DefaultCSVConfig() CSVConfig {
	return CSVConfig{
		BatchSize:   32,
		LabelColumn: -1,
		Header:      true,
	}
}

func (c CSVConfig) Validate() error {
	var errs []error
	if c.TrainPath == "" {
		errs = append(errs, errors.New("train_path is required"))
	}
	if c.ValPath == "" {
		errs = append(errs, errors.New("val_path is required"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", c.BatchSize))
	}

	return errors.Join(errs...)
}

type CSVDataModule struct {
	cfg     CSVConfig
	rootDir string
	train   *Dataset
	val     *Dataset
}

var _ ml.DataModule = (*CSVDataModule)(nil)

func NewCSVDataModule(cfg CSVConfig, rootDir string) (*CSVDataModule, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &CSVDataModule{cfg: cfg, rootDir: rootDir}, nil
}

func (d *CSVDataModule) Setup(stage string) error {
	if stage != ml.StageFit && stage != ml.StageValidate {
		return fmt.Errorf("setup: unknown stage %q: %w", stage, pkgerrors.ErrInvalidValue)
	}

	var err error
	if stage == ml.StageFit {
		if d.train, err = d.read(d.cfg.TrainPath); err != nil {
			return err
		}
	}
	if d.val, err = d.read(d.cfg.ValPath); err != nil {
		return err
	}
	if d.train != nil && d.train.cols != d.val.cols {
		return fmt.Errorf("train set has %d features but validation set has %d: %w", d.train.cols, d.val.cols, pkgerrors.ErrInvalidValue)
	}

	return nil
}

func (d *CSVDataModule) TrainLoader() (ml.Loader, error) {
	if d.train == nil {
		return nil, errNotSetUp
	}

	return NewLoader(d.train, d.cfg.BatchSize), nil
}

func (d *CSVDataModule) ValLoader() (ml.Loader, error) {
	if d.val == nil {
		return nil, errNotSetUp
	}

	return NewLoader(d.val, d.cfg.BatchSize), nil
}

func (d *CSVDataModule) read(path string) (*Dataset, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(d.rootDir, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return readCSV(f, d.cfg.LabelColumn, d.cfg.Header)
}

func readCSV(r io.Reader, labelColumn int, header bool) (*Dataset, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	if header && len(records) > 0 {
		records = records[1:]
	}
	if len(records) == 0 {
		return &Dataset{}, nil
	}

	width := len(records[0])
	if width < 2 {
		return nil, fmt.Errorf("csv needs at least one feature and a label column, got %d columns: %w", width, pkgerrors.ErrInvalidValue)
	}
	if labelColumn < 0 {
		labelColumn += width
	}
	if labelColumn < 0 || labelColumn >= width {
		return nil, fmt.Errorf("label column %d outside a %d column file: %w", labelColumn, width, pkgerrors.ErrInvalidValue)
	}

	cols := width - 1
	data := make([]float64, 0, len(records)*cols)
	labels := make([]int, len(records))
	for i, rec := range records {
		for j, field := range rec {
			if j == labelColumn {
				y, err := strconv.Atoi(field)
				if err != nil {
					return nil, fmt.Errorf("row %d: invalid label %q: %w", i+1, field, err)
				}
				labels[i] = y

				continue
			}
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: %w", i+1, j, err)
			}
			data = append(data, v)
		}
	}

	return &Dataset{
		features: mat.NewDense(len(records), cols, data),
		labels:   labels,
		cols:     cols,
	}, nil
}
