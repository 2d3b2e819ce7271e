// Package cli holds helpers shared by the soe commands: output formatting,
// exit codes and signal handling.
//
//	format, err := cli.ParseFormat(outputFlag)
//	if err := cli.NewFormatter(format).FormatTo(os.Stdout, run); err != nil {
//		return err
//	}
//
// A command reports a non-error outcome through ExitError; main turns the
// returned error into a process status with ExitCode.
package cli
