package cmd

import (
	"github.com/fatih/color"
	"github.com/toques-bi/toques/pkg/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const DefaultConfigFile = config.DefaultPath

var (
	faint          = color.New(color.Faint).SprintFunc()
	infoPrinter    = color.New(color.Bold)
	errorPrinter   = color.New(color.FgRed, color.Bold)
	warningPrinter = color.New(color.FgYellow, color.Bold)
	successPrinter = color.New(color.FgGreen, color.Bold)
)

type printer interface {
	Printf(format string, a ...interface{}) (int, error)
	Println(a ...interface{}) (int, error)
}

func makeLogger(isDebug bool) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	if isDebug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.OutputPaths = []string{"stderr"}

	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}

	return l.Sugar()
}
