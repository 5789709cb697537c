package cmd

import "github.com/urfave/cli/v2"

// Commands returns every scriptcover command.
func Commands(commit string) []*cli.Command {
	return []*cli.Command{
		InstrumentCommand(),
		RunCommand(),
		ExecCommand(),
		SubmitCommand(),
		ReportCommand(),
		SummaryCommand(),
		ContextsCommand(),
		ForgetCommand(),
		StatsCommand(),
		ServeCommand(),
		VersionCommand(commit),
	}
}
