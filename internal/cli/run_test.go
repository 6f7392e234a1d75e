package cli_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/graftdebug/graft/internal/cli"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		t.Fatal(err)
	}

	err = os.WriteFile(path, []byte(content), 0o644)
	if err != nil {
		t.Fatal(err)
	}
}

func Test_Bare_Command_When_Invoked(t *testing.T) {
	t.Parallel()

	// Call Run directly without test helper (which adds --cwd)
	var stdout, stderr bytes.Buffer

	exitCode := cli.Run(nil, &stdout, &stderr, []string{"graft"}, nil, nil)

	if got, want := exitCode, 0; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	if got, want := stderr.String(), ""; got != want {
		t.Errorf("stderr=%q, want=%q", got, want)
	}

	cli.AssertContains(t, stdout.String(), "graft - inspect captured graph computation traces")
	cli.AssertContains(t, stdout.String(), "--cwd")
	cli.AssertContains(t, stdout.String(), "show <job> <trace>")
}

func Test_Main_Help_When_Invoked(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name string
		args []string
	}{
		{name: "long flag", args: []string{"--help"}},
		{name: "short flag", args: []string{"-h"}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := cli.NewCLI(t)
			stdout, stderr, exitCode := c.Run(tt.args...)

			if got, want := exitCode, 0; got != want {
				t.Errorf("exitCode=%d, want=%d", got, want)
			}

			if got, want := stderr, ""; got != want {
				t.Errorf("stderr=%q, want=%q", got, want)
			}

			cli.AssertContains(t, stdout, "Commands:")
			cli.AssertContains(t, stdout, "vertices <job> <superstep>")
			cli.AssertContains(t, stdout, "print-config")
		})
	}
}

func Test_Invalid_Global_Flag_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout, stderr, exitCode := c.Run("--invalid-flag", "jobs")

	if got, want := exitCode, 1; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	if got, want := stdout, ""; got != want {
		t.Errorf("stdout=%q, want=%q", got, want)
	}

	cli.AssertContains(t, stderr, "unknown flag")
	cli.AssertContains(t, stderr, "--invalid-flag")
	cli.AssertContains(t, stderr, "Global flags:")
	cli.AssertContains(t, stderr, "--root")
}

func Test_Empty_Root_Flag_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("--root=", "jobs")

	cli.AssertContains(t, stderr, "trace_root cannot be empty")
	cli.AssertContains(t, stderr, "Global flags:")
}

func Test_No_Command_With_Flags_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("--cwd", c.Dir)

	cli.AssertContains(t, stderr, "no command provided")
	cli.AssertContains(t, stderr, "Commands:")
}

func Test_Unknown_Command_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("replay")

	cli.AssertContains(t, stderr, "unknown command: replay")
}

func Test_Invalid_Command_Flag_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout, stderr, exitCode := c.Run("ls", "--invalid-flag", "job1")

	if got, want := exitCode, 1; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	cli.AssertContains(t, stdout, "Usage: graft ls <job>")
	cli.AssertContains(t, stdout, "Flags:")
	cli.AssertContains(t, stderr, "error:")
	cli.AssertContains(t, stderr, "unknown flag")
}

func Test_Command_Help_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("show", "--help")

	cli.AssertContains(t, stdout, "Usage: graft show <job> <trace>")
	cli.AssertContains(t, stdout, "--json")
}

func Test_Extra_Args_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout, stderr, exitCode := c.Run("print-config", "extra")

	if got, want := exitCode, 1; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	cli.AssertContains(t, stderr, "wrong number of arguments")
	cli.AssertContains(t, stdout, "Usage: graft print-config")
	cli.AssertNotContains(t, stdout, "[flags]")
}

func Test_Invalid_Config_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	writeFile(t, filepath.Join(c.Dir, ".graft.json"), `{"compression": "lz4"}`)

	stderr := c.MustFail("jobs")
	cli.AssertContains(t, stderr, "compression")
}

func Test_Print_Config_Defaults_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("print-config")

	cli.AssertContains(t, stdout, "trace_root="+c.TraceRoot())
	cli.AssertContains(t, stdout, "catch_exceptions=true")
	cli.AssertContains(t, stdout, "(defaults only)")
}

func Test_Print_Config_From_Config_File_With_Comments_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	writeFile(t, filepath.Join(c.Dir, ".graft.json"), `{
		// traces live next to the job
		"trace_root": "out/traces",
		"supersteps_to_debug": [0, 3],
	}`)

	stdout := c.MustRun("print-config")
	cli.AssertContains(t, stdout, "trace_root="+filepath.Join(c.Dir, "out", "traces"))
	cli.AssertContains(t, stdout, "supersteps_to_debug=0,3")
	cli.AssertContains(t, stdout, "project_config="+filepath.Join(c.Dir, ".graft.json"))
}

func Test_Print_Config_Root_Override_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	writeFile(t, filepath.Join(c.Dir, ".graft.json"), `{"trace_root": "from-file"}`)

	stdout := c.MustRun("--root=from-cli", "print-config")
	cli.AssertContains(t, stdout, "trace_root="+filepath.Join(c.Dir, "from-cli"))
}

func Test_Global_Config_From_XDG_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	xdg := t.TempDir()
	c.Env["XDG_CONFIG_HOME"] = xdg
	writeFile(t, filepath.Join(xdg, "graft", "config.json"), `{"num_vertices_to_log": 25}`)

	stdout := c.MustRun("print-config")
	cli.AssertContains(t, stdout, "num_vertices_to_log=25")
	cli.AssertContains(t, stdout, "global_config="+filepath.Join(xdg, "graft", "config.json"))
}
