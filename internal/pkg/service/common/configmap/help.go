package configmap

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// HelpError is returned by Bind if the help flag is set, it wraps pflag.ErrHelp.
type HelpError struct {
	Help string
}

func (h HelpError) Error() string {
	return "help requested"
}

func (h HelpError) Unwrap() error {
	return pflag.ErrHelp
}

func newHelpError(spec BindSpec, flags *pflag.FlagSet) HelpError {
	var b strings.Builder

	b.WriteString(fmt.Sprintf(`Usage of "%s":`, spec.AppName))
	b.WriteString("\n")
	b.WriteString(flags.FlagUsages())

	b.WriteString("\n")
	b.WriteString("Configuration source priority: 1. flag, 2. ENV, 3. config file\n")

	b.WriteString("\n")
	b.WriteString("Flags can also be defined as ENV variables.\n")
	b.WriteString(fmt.Sprintf("For example, the flag \"--foo-bar\" becomes the \"%s\" ENV.\n", flagToEnv(spec.EnvPrefix, "foo-bar")))

	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("Use \"--%s\" flag to specify a JSON/YAML configuration file.\n", ConfigFileFlag))

	return HelpError{Help: b.String()}
}
