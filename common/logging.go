package common

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

type textFormatter struct {
}

// Based off logrus.TextFormatter, which behaves completely
// differently when you don't want colored output
func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := &bytes.Buffer{}

	levelText := strings.ToUpper(entry.Level.String())[0:4]
	timeStamp := entry.Time.Format("2006/01/02 15:04:05.000000")
	fmt.Fprintf(b, "%s: %s %s", levelText, timeStamp, entry.Message)
	for k, v := range entry.Data {
		fmt.Fprintf(b, " %s=%v", k, v)
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

var Log = logrus.StandardLogger()

func init() {
	Log.Formatter = &textFormatter{}
}

func SetLogLevel(levelname string) error {
	level, err := logrus.ParseLevel(levelname)
	if err != nil {
		return fmt.Errorf("unknown log level %q", levelname)
	}
	Log.SetLevel(level)
	return nil
}
