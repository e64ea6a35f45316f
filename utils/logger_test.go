/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package utils

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLogLevel(" DEBUG "))
	assert.Equal(t, logrus.WarnLevel, ParseLogLevel("warning"))
	assert.Equal(t, logrus.InfoLevel, ParseLogLevel(""))
	assert.Equal(t, logrus.InfoLevel, ParseLogLevel("verbose"))
}

func TestNewLoggerIsCachedByName(t *testing.T) {
	a := NewLogger("CACHE_TEST")
	b := NewLogger("CACHE_TEST")
	assert.Same(t, a, b)
	assert.Contains(t, RegisteredLoggers(), "CACHE_TEST")

	assert.True(t, SetLoggerLevel("CACHE_TEST", "error"))
	assert.Equal(t, logrus.ErrorLevel, a.GetLevel())
	assert.False(t, SetLoggerLevel("NO_SUCH_LOGGER", "error"))
}

func TestNamedTextFormatter(t *testing.T) {
	f := &NamedTextFormatter{LoggerName: "DATABASE", NameWidth: 10}
	out, err := f.Format(&logrus.Entry{
		Time:    time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:   logrus.InfoLevel,
		Message: "Session opened",
		Data:    logrus.Fields{"session": "abc", "entities": 2},
	})
	require.NoError(t, err)
	line := string(out)
	assert.Contains(t, line, "2025-01-02 03:04:05.000")
	assert.Contains(t, line, "   INFO")
	assert.Contains(t, line, "  DATABASE : Session opened entities=2 session=abc\n")
}

func TestJSONLoggerCarriesName(t *testing.T) {
	prevFormat, prevOut := consoleLogFormat, logOutput
	t.Cleanup(func() { consoleLogFormat, logOutput = prevFormat, prevOut })

	var buf bytes.Buffer
	ConfigureConsoleLogFormat("json")
	ConfigureOutput(&buf)

	l := NewLogger("JSON_TEST")
	l.SetLevel(logrus.InfoLevel)
	l.WithField("table", "players").Info("created")

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "created", record["message"])
	assert.Equal(t, "JSON_TEST", record["model"])
	assert.Equal(t, "players", record["table"])
}

func TestEnvDefaults(t *testing.T) {
	t.Setenv("TXREPO_TEST_INT", "12")
	t.Setenv("TXREPO_TEST_BOOL", "true")
	t.Setenv("TXREPO_TEST_BAD", "x")
	t.Setenv("TXREPO_TEST_SECONDS", "3")
	_ = os.Unsetenv("TXREPO_TEST_MISSING")

	assert.Equal(t, 12, EnvDefaultInt("TXREPO_TEST_INT", 1))
	assert.Equal(t, 1, EnvDefaultInt("TXREPO_TEST_BAD", 1))
	assert.True(t, EnvDefaultBool("TXREPO_TEST_BOOL", false))
	assert.False(t, EnvDefaultBool("TXREPO_TEST_BAD", false))
	assert.Equal(t, 3*time.Second, EnvDefaultSeconds("TXREPO_TEST_SECONDS", time.Second))
	assert.Equal(t, "fallback", EnvDefaultString("TXREPO_TEST_MISSING", "fallback"))
}
