package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	nexuserrors "github.com/nexus-fleet/nexus/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	artifactNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	sudoUserPattern     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)
	fileModePattern     = regexp.MustCompile(`^0?[0-7]{3,4}$`)
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("artifact_name", func(fl validator.FieldLevel) bool {
			return artifactNamePattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("sudo_user", func(fl validator.FieldLevel) bool {
			return sudoUserPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("file_mode", func(fl validator.FieldLevel) bool {
			return fileModePattern.MatchString(fl.Field().String())
		})

		// Rejects path-traversal sequences in transfer file arguments.
		_ = v.RegisterValidation("safe_path", func(fl validator.FieldLevel) bool {
			path := fl.Field().String()
			return !strings.Contains(path, "..")
		})

		validateInst = v
	})

	return validateInst
}

// ValidateConfig performs schema and cross-reference validation on the
// configuration. Every host, group, dep and notify reference must resolve.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return nexuserrors.NewValidationError("config", "configuration is nil", nil)
	}

	v := validatorInstance()
	if err := v.Struct(cfg); err != nil {
		return convertValidationError(err)
	}

	for _, name := range sortedKeys(cfg.Hosts) {
		if !artifactNamePattern.MatchString(name) {
			return nexuserrors.NewValidationError("hosts", fmt.Sprintf("invalid host name %q", name), nil)
		}
	}

	for _, name := range sortedKeys(cfg.Groups) {
		group := cfg.Groups[name]
		if !artifactNamePattern.MatchString(name) {
			return nexuserrors.NewValidationError("groups", fmt.Sprintf("invalid group name %q", name), nil)
		}
		for _, hostName := range group.Hosts {
			if _, ok := cfg.Hosts[hostName]; !ok {
				return nexuserrors.NewValidationError(
					fmt.Sprintf("groups.%s", name),
					fmt.Sprintf("references unknown host %q", hostName), nil)
			}
		}
	}

	for _, name := range sortedKeys(cfg.Tasks) {
		task := cfg.Tasks[name]
		if !artifactNamePattern.MatchString(name) {
			return nexuserrors.NewValidationError("tasks", fmt.Sprintf("invalid task name %q", name), nil)
		}

		if err := validateTarget(cfg, name, task.On); err != nil {
			return err
		}

		for _, dep := range task.Deps {
			if _, ok := cfg.Tasks[dep]; !ok {
				return nexuserrors.NewValidationError(
					fmt.Sprintf("tasks.%s.deps", name),
					fmt.Sprintf("references unknown task %q", dep), nil)
			}
		}

		for i, step := range task.Steps {
			if notify := step.Notify(); notify != "" {
				if _, ok := cfg.Handlers[notify]; !ok {
					return nexuserrors.NewValidationError(
						fmt.Sprintf("tasks.%s.commands[%d].notify", name, i),
						fmt.Sprintf("references unknown handler %q", notify), nil)
				}
			}
		}
	}

	for _, name := range sortedKeys(cfg.Handlers) {
		if !artifactNamePattern.MatchString(name) {
			return nexuserrors.NewValidationError("handlers", fmt.Sprintf("invalid handler name %q", name), nil)
		}
	}

	return nil
}

func validateTarget(cfg *Config, task, target string) error {
	if target == "" || target == LocalTarget {
		return nil
	}
	if _, ok := cfg.Hosts[target]; ok {
		return nil
	}
	if _, ok := cfg.Groups[target]; ok {
		return nil
	}
	return nexuserrors.NewValidationError(
		fmt.Sprintf("tasks.%s.on", task),
		fmt.Sprintf("references unknown host or group %q", target), nil)
}

func convertValidationError(err error) error {
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if ok := errorsAs(err, &fieldErrs); ok && len(fieldErrs) > 0 {
		first := fieldErrs[0]
		return nexuserrors.NewValidationError(
			first.Namespace(),
			fmt.Sprintf("failed %q constraint", first.Tag()), err)
	}

	return nexuserrors.NewValidationError("", err.Error(), err)
}

func errorsAs(err error, target *validator.ValidationErrors) bool {
	fe, ok := err.(validator.ValidationErrors)
	if ok {
		*target = fe
	}
	return ok
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
