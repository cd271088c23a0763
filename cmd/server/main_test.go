// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestGetConfigString(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("fileContent"), 0o644))

	tests := []struct {
		configFileName     string
		configBody         string
		expectedConfigBody string
	}{
		{"", "", ""},
		{"", "configBody", "configBody"},
		{file, "configBody", "configBody"},
		{file, "", "fileContent"},
	}
	for _, test := range tests {
		configBody, err := getConfigString(test.configFileName, test.configBody)
		require.NoError(t, err)
		require.Equal(t, test.expectedConfigBody, configBody)
	}
}

func TestShouldReturnErrorIfConfigFileDoesNotExist(t *testing.T) {
	configBody, err := getConfigString("notExistingFile", "")
	require.Error(t, err)
	require.Empty(t, configBody)
}

func TestGetConfig(t *testing.T) {
	app := cli.NewApp()
	app.Flags = baseFlags

	set := flag.NewFlagSet("test", 0)
	set.String("config-body", "forwarding:\n  latency_budget: 7ms", "")
	set.String("node-id", "node-a", "")
	require.NoError(t, set.Parse(nil))

	c := cli.NewContext(app, set, nil)
	conf, err := getConfig(c)
	require.NoError(t, err)
	require.Equal(t, 7*time.Millisecond, conf.Forwarding.LatencyBudget)
	require.Equal(t, "node-a", getNodeID(c))
}
