package registry

import "github.com/absmach/flclient/ml/demo"

const DemoName = "demo"

// Default returns a registry holding the built-in components.
func Default() *Registry {
	return New().
		RegisterModel(DemoName, Model(demo.ModelSchema, demo.DefaultModelConfig(), func(c demo.ModelConfig, _ BuildContext) (*demo.Model, error) {
			return demo.NewModel(c)
		})).
		RegisterDataModule(DemoName, DataModule(demo.DataSchema, demo.DefaultDataConfig(), func(c demo.DataConfig, _ BuildContext) (*demo.DataModule, error) {
			return demo.NewDataModule(c)
		})).
		RegisterDataModule("csv", DataModule(demo.CSVSchema, demo.DefaultCSVConfig(), func(c demo.CSVConfig, bc BuildContext) (*demo.CSVDataModule, error) {
			return demo.NewCSVDataModule(c, bc.RootDir)
		}))
}
