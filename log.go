// Copyright 2026 Tizen Display Team. All rights reserved.

package tdm

import (
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Debug modules togglable at runtime via environment variables
// (TDM_DEBUG_*) or the wire debug channel.
const (
	debugBuffer  = "buffer"
	debugThread  = "thread"
	debugMutex   = "mutex"
	debugPP      = "pp"
	debugCapture = "capture"
	debugLayer   = "layer"
	debugDump    = "dump"
)

var (
	logger   atomic.Pointer[zap.SugaredLogger]
	logLevel zap.AtomicLevel

	dbgBuffer  atomic.Bool
	dbgThread  atomic.Bool
	dbgMutex   atomic.Bool
	dbgPP      atomic.Bool
	dbgCapture atomic.Bool
	dbgLayer   atomic.Bool
)

func init() {
	logLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	logger.Store(newLogger(os.Getenv("TDM_DLOG") == "1"))

	if os.Getenv("TDM_DEBUG") == "1" {
		logLevel.SetLevel(zapcore.DebugLevel)
	}
	dbgBuffer.Store(os.Getenv("TDM_DEBUG_BUFFER") == "1")
	dbgThread.Store(os.Getenv("TDM_DEBUG_THREAD") == "1")
	dbgMutex.Store(os.Getenv("TDM_DEBUG_MUTEX") == "1")
}

// newLogger builds the package logger. With dlog set the output is
// JSON-encoded for the system log collector; otherwise a console
// encoder writing to stderr.
func newLogger(dlog bool) *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if dlog {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), logLevel)
	return zap.New(core).Named("tdm").Sugar()
}

func log() *zap.SugaredLogger { return logger.Load() }

// setDebugModule flips one debug module filter.
// It reports whether the module name was recognized.
func setDebugModule(module string, enable bool) bool {
	switch module {
	case debugBuffer:
		dbgBuffer.Store(enable)
	case debugThread:
		dbgThread.Store(enable)
	case debugMutex:
		dbgMutex.Store(enable)
	case debugPP:
		dbgPP.Store(enable)
	case debugCapture:
		dbgCapture.Store(enable)
	case debugLayer:
		dbgLayer.Store(enable)
	case debugDump:
		// handled by the dump counter, kept for the command set
	default:
		return false
	}
	return true
}
