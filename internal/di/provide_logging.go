package di

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// ProvideLogger creates the console logger used by every command
func ProvideLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		Level(zerolog.InfoLevel).
		With().
		Timestamp().
		Logger()
}

// NewFileLogger logs info and above to stdout and everything, including
// command output, to the file at path. The file is opened for append.
func NewFileLogger(path string) (zerolog.Logger, io.Closer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	return newTeeLogger(os.Stdout, f), f, nil
}

func newTeeLogger(console, file io.Writer) zerolog.Logger {
	w := zerolog.MultiLevelWriter(
		&zerolog.FilteredLevelWriter{
			Writer: zerolog.LevelWriterAdapter{Writer: zerolog.ConsoleWriter{Out: console}},
			Level:  zerolog.InfoLevel,
		},
		zerolog.ConsoleWriter{Out: file, NoColor: true},
	)

	return zerolog.New(w).
		Level(zerolog.DebugLevel).
		With().
		Timestamp().
		Logger()
}
