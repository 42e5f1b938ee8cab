package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const initScript = `
steps:
  - partition: 1
    initialize: {disk_system: Intel Partition Map}
    create_child: {offset: 1MiB, size: 512MiB, type: "0x83"}
    as: data
  - ref: data
    initialize: {disk_system: ext4, name: data}
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeScript(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "script.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestEditSession(t *testing.T) {
	dir := t.TempDir()
	state := filepath.Join(dir, "disks.yaml")
	script := writeScript(t, dir, initScript)

	out, err := run(t, "create", "--state", state, "--size", "1GiB")
	require.NoError(t, err)
	require.Contains(t, out, "created device 1 of 1GiB")

	before, err := os.ReadFile(state)
	require.NoError(t, err)
	out, err = run(t, "plan", "--state", state, script)
	require.NoError(t, err)
	require.Equal(t, `initialize 1 with "Intel Partition Map" name="" parameters=""
create child of 1 offset=1048576 size=536870912 type="0x83" name=""
initialize new with "ext4" name="data" parameters=""
`, out)
	after, err := os.ReadFile(state)
	require.NoError(t, err)
	require.Equal(t, before, after, "plan modified the state file")

	out, err = run(t, "apply", "--state", state, "--sync", script)
	require.NoError(t, err)
	require.Contains(t, out, `[1/3] initialize 1 with "Intel Partition Map"`)
	require.Contains(t, out, "done, 3 operations")

	out, err = run(t, "show", "--state", state)
	require.NoError(t, err)
	require.Contains(t, out, "device 1")
	require.Regexp(t, `\n  2 +1048576 +512MiB +0x83 +ext4 +data +valid`, out)

	out, err = run(t, "apply", "--state", state, writeScript(t, dir, "steps: []"))
	require.NoError(t, err)
	require.Equal(t, "nothing to do\n", out)
}

func TestErrors(t *testing.T) {
	dir := t.TempDir()
	state := filepath.Join(dir, "disks.yaml")
	_, err := run(t, "create", "--state", state, "--size", "1MiB")
	require.NoError(t, err)

	tests := []struct {
		name string
		args []string
		msg  string
	}{
		{"no state", []string{"show"}, "--state is required"},
		{"existing state", []string{"create", "--state", state}, "could not create state file"},
		{"bad size", []string{"create", "--state", filepath.Join(dir, "other.yaml"), "--size", "1023"}, "not a positive multiple"},
		{"missing script", []string{"plan", "--state", state, filepath.Join(dir, "missing.yaml")}, "could not read script"},
		{"unknown device", []string{"show", "--state", state, "--device", "7"}, "could not open device"},
		{"refused edit", []string{"apply", "--state", state, writeScript(t, dir, "steps: [{partition: 1, delete: true}]")}, "step 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.msg)
		})
	}
}
