package log

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"
)

type severity int32

const (
	DEBUG severity = iota
	INFO
	WARNING
	ERROR
)

var names = []string{
	DEBUG:   "DEBUG",
	INFO:    "INFO",
	WARNING: "WARNING",
	ERROR:   "ERROR",
}

type logger struct {
	level     severity
	debugLog  *log.Logger
	infoLog   *log.Logger
	warnLog   *log.Logger
	errorLog  *log.Logger
	logFile   *os.File
}

var std logger

var level = flag.Int("log_level", 1, "logging level: 0 debug, 1 info, 2 warning, 3 error")
var dir = flag.String("log_dir", "", "if non-empty, write log files in this directory")

func init() {
	std.level = INFO
	setOutput(os.Stderr)
}

func setOutput(w io.Writer) {
	fl := log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile
	std.debugLog = log.New(w, "[DEBUG] ", fl)
	std.infoLog = log.New(w, "[INFO] ", fl)
	std.warnLog = log.New(w, "[WARNING] ", fl)
	std.errorLog = log.New(w, "[ERROR] ", fl)
}

// Setup sets the log level and log output file from the command line flags.
// Call after flag.Parse().
func Setup() {
	std.level = severity(*level)
	if *dir != "" {
		name := fmt.Sprintf("%s.%d.log", filepath.Base(os.Args[0]), os.Getpid())
		f, err := os.Create(filepath.Join(*dir, name))
		if err != nil {
			log.Fatal(err)
		}
		std.logFile = f
		setOutput(f)
	}
	_ = time.Now
}

func output(s severity, l *log.Logger, v ...interface{}) {
	if s >= std.level {
		l.Output(3, fmt.Sprint(v...))
	}
}

func outputf(s severity, l *log.Logger, format string, v ...interface{}) {
	if s >= std.level {
		l.Output(3, fmt.Sprintf(format, v...))
	}
}

func Debug(v ...interface{}) {
	output(DEBUG, std.debugLog, v...)
}

func Debugf(format string, v ...interface{}) {
	outputf(DEBUG, std.debugLog, format, v...)
}

func Info(v ...interface{}) {
	output(INFO, std.infoLog, v...)
}

func Infof(format string, v ...interface{}) {
	outputf(INFO, std.infoLog, format, v...)
}

func Warning(v ...interface{}) {
	output(WARNING, std.warnLog, v...)
}

func Warningf(format string, v ...interface{}) {
	outputf(WARNING, std.warnLog, format, v...)
}

func Error(v ...interface{}) {
	output(ERROR, std.errorLog, v...)
}

func Errorf(format string, v ...interface{}) {
	outputf(ERROR, std.errorLog, format, v...)
}

func Fatal(v ...interface{}) {
	output(ERROR, std.errorLog, v...)
	if std.logFile != nil {
		std.logFile.Close()
	}
	os.Exit(1)
}

func Fatalf(format string, v ...interface{}) {
	outputf(ERROR, std.errorLog, format, v...)
	if std.logFile != nil {
		std.logFile.Close()
	}
	os.Exit(1)
}
