// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"flag"
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/spf13/viper"
)

// envPrefix is prepended to upper-cased flag names, with '-' replaced by '_',
// to form the environment variable that configures the flag.
const envPrefix = "PILESCAN"

// applyConfig fills in every flag of fs that was not given on the commandline
// from the environment or from the config file at path (if nonempty), in
// viper's order: environment variables win over the config file.
func applyConfig(fs *flag.FlagSet, path string) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errors.E(errors.Invalid, err, "reading config "+path)
		}
	}
	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	var err error
	fs.VisitAll(func(f *flag.Flag) {
		if err != nil || explicit[f.Name] || f.Name == "config" || !v.IsSet(f.Name) {
			return
		}
		val := v.GetString(f.Name)
		if e := fs.Set(f.Name, val); e != nil {
			err = errors.E(errors.Invalid, e, fmt.Sprintf("config value %q for -%s", val, f.Name))
			return
		}
		log.Debug.Printf("-%s=%s from config", f.Name, val)
	})
	return err
}
