package forecasters

import "github.com/sirupsen/logrus"

// All returns the eight forecasters in reporting order
func All(seed uint64, runner BatchRunner, probe AvailabilityProbe, logger *logrus.Logger) []Forecaster {
	return []Forecaster{
		NewARIMA(),
		NewProphet(),
		NewLSTM(seed),
		NewGRU(seed),
		NewRandomForest(seed),
		NewXGBoost(),
		NewGradientBoosting(seed),
		NewNHITS(runner, probe, logger),
	}
}
