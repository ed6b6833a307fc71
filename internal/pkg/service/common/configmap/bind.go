// Package configmap binds flags, ENVs and a config file to a configuration structure.
//
// Source priority: 1. flag, 2. ENV, 3. config file, 4. default value from the structure.
// The flag "--foo-bar" becomes the "<PREFIX>FOO_BAR" ENV.
package configmap

import (
	"io"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/keboola/changeset-scheduler/internal/pkg/utils/errors"
)

const (
	HelpFlag       = "help"
	ConfigFileFlag = "config-file"
)

// ValueWithValidation is a configuration structure which can be normalized and validated after binding.
type ValueWithValidation interface {
	Normalize()
	Validate() error
}

// EnvLookupFn returns the ENV value, os.LookupEnv in production.
type EnvLookupFn func(key string) (string, bool)

type BindSpec struct {
	AppName   string
	Args      []string
	EnvPrefix string
	Envs      EnvLookupFn
}

// Bind flags, ENVs and the config file to the target, the target default values are kept if nothing is set.
func Bind(spec BindSpec, target ValueWithValidation) error {
	fs := pflag.NewFlagSet(spec.AppName, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Bool(HelpFlag, false, "Print help message.")
	fs.String(ConfigFileFlag, "", "Path to a JSON/YAML configuration file.")

	flagToKey, err := GenerateFlags(fs, target)
	if err != nil {
		return err
	}

	if err := fs.Parse(spec.Args); err != nil {
		return err
	}

	if help, _ := fs.GetBool(HelpFlag); help {
		return newHelpError(spec, fs)
	}

	v := viper.New()

	// Config file has the lowest priority, but higher than default values
	if path, _ := fs.GetString(ConfigFileFlag); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errors.PrefixErrorf(err, `cannot read config file "%s"`, path)
		}
	}

	errs := errors.NewMultiError()
	fs.VisitAll(func(flag *pflag.Flag) {
		key, ok := flagToKey[flag.Name]
		if !ok {
			return
		}

		// Flag value, or the default value if the flag is not set
		if err := v.BindPFlag(key, flag); err != nil {
			errs.Append(err)
			return
		}

		// ENV overrides the config file, but not the flag
		if !flag.Changed && spec.Envs != nil {
			if value, found := spec.Envs(flagToEnv(spec.EnvPrefix, flag.Name)); found {
				v.Set(key, value)
			}
		}
	})
	if err := errs.ErrorOrNil(); err != nil {
		return err
	}

	err = v.Unmarshal(target, func(c *mapstructure.DecoderConfig) {
		c.TagName = configKeyTag
		c.ErrorUnused = false
	})
	if err != nil {
		return errors.PrefixError(err, "cannot decode configuration")
	}

	target.Normalize()
	return target.Validate()
}
