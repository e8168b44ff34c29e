package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Step type tags accepted in a task's command list.
const (
	StepCommand         = "command"
	StepPackage         = "package"
	StepService         = "service"
	StepFile            = "file"
	StepDirectory       = "directory"
	StepUser            = "user"
	StepGroup           = "group"
	StepCommandResource = "command_resource"
	StepUpload          = "upload"
	StepDownload        = "download"
	StepTemplate        = "template"
	StepWaitFor         = "wait_for"
)

// Step describes one entry of a task's ordered command list. Exactly one
// of the variant pointers is populated, selected by Type.
type Step struct {
	Type string `yaml:"type" validate:"required,oneof=command package service file directory user group command_resource upload download template wait_for"`

	Command    *CommandStep       `yaml:"-"`
	Package    *PackageResource   `yaml:"-"`
	Service    *ServiceResource   `yaml:"-"`
	File       *FileResource      `yaml:"-"`
	Directory  *DirectoryResource `yaml:"-"`
	User       *UserResource      `yaml:"-"`
	Group      *GroupResource     `yaml:"-"`
	CommandRes *CommandResource   `yaml:"-"`
	Upload     *UploadStep        `yaml:"-"`
	Download   *DownloadStep      `yaml:"-"`
	Template   *TemplateStep      `yaml:"-"`
	WaitFor    *WaitForStep       `yaml:"-"`
}

// UnmarshalYAML decodes a step into its type-specific variant.
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	type baseStep struct {
		Type string `yaml:"type"`
	}

	var base baseStep
	if err := value.Decode(&base); err != nil {
		return err
	}
	s.Type = base.Type

	switch base.Type {
	case StepCommand:
		s.Command = &CommandStep{}
		return value.Decode(s.Command)
	case StepPackage:
		s.Package = &PackageResource{}
		return value.Decode(s.Package)
	case StepService:
		s.Service = &ServiceResource{}
		return value.Decode(s.Service)
	case StepFile:
		s.File = &FileResource{}
		return value.Decode(s.File)
	case StepDirectory:
		s.Directory = &DirectoryResource{}
		return value.Decode(s.Directory)
	case StepUser:
		s.User = &UserResource{}
		return value.Decode(s.User)
	case StepGroup:
		s.Group = &GroupResource{}
		return value.Decode(s.Group)
	case StepCommandResource:
		s.CommandRes = &CommandResource{}
		return value.Decode(s.CommandRes)
	case StepUpload:
		s.Upload = &UploadStep{}
		return value.Decode(s.Upload)
	case StepDownload:
		s.Download = &DownloadStep{}
		return value.Decode(s.Download)
	case StepTemplate:
		s.Template = &TemplateStep{}
		return value.Decode(s.Template)
	case StepWaitFor:
		s.WaitFor = &WaitForStep{}
		return value.Decode(s.WaitFor)
	default:
		return fmt.Errorf("unknown step type %q", base.Type)
	}
}

// IsResource reports whether the step is a declarative resource.
func (s *Step) IsResource() bool {
	switch s.Type {
	case StepPackage, StepService, StepFile, StepDirectory, StepUser, StepGroup, StepCommandResource:
		return true
	}
	return false
}

// Notify returns the handler name attached to the step's resource, if any.
func (s *Step) Notify() string {
	switch s.Type {
	case StepPackage:
		return s.Package.Notify
	case StepService:
		return s.Service.Notify
	case StepFile:
		return s.File.Notify
	case StepDirectory:
		return s.Directory.Notify
	case StepUser:
		return s.User.Notify
	case StepGroup:
		return s.Group.Notify
	case StepCommandResource:
		return s.CommandRes.Notify
	}
	return ""
}

// CommandStep executes an arbitrary shell command on the target host.
type CommandStep struct {
	Cmd        string            `yaml:"cmd" validate:"required,min=1"`
	Sudo       bool              `yaml:"sudo,omitempty"`
	User       string            `yaml:"user,omitempty" validate:"omitempty,sudo_user"`
	Timeout    int               `yaml:"timeout,omitempty" validate:"omitempty,min=1"`
	Retries    int               `yaml:"retries,omitempty" validate:"omitempty,min=0,max=100"`
	RetryDelay int               `yaml:"retry_delay,omitempty" validate:"omitempty,min=0"`
	Cwd        string            `yaml:"cwd,omitempty"`
	Env        map[string]string `yaml:"env,omitempty"`
}

// When is a predicate over host facts guarding resource execution.
// Exactly one of the fields is set per node.
type When struct {
	Fact   string  `yaml:"fact,omitempty"`
	Equals string  `yaml:"equals,omitempty"`
	Not    *When   `yaml:"not,omitempty"`
	AllOf  []*When `yaml:"all_of,omitempty"`
	AnyOf  []*When `yaml:"any_of,omitempty"`
}

// Eval evaluates the predicate against a fact map. A nil predicate is true.
func (w *When) Eval(facts map[string]string) bool {
	if w == nil {
		return true
	}

	switch {
	case w.Not != nil:
		return !w.Not.Eval(facts)
	case len(w.AllOf) > 0:
		for _, clause := range w.AllOf {
			if !clause.Eval(facts) {
				return false
			}
		}
		return true
	case len(w.AnyOf) > 0:
		for _, clause := range w.AnyOf {
			if clause.Eval(facts) {
				return true
			}
		}
		return false
	default:
		return facts[w.Fact] == w.Equals
	}
}

// PackageResource manages a system package.
type PackageResource struct {
	Name   string `yaml:"name" validate:"required,artifact_name"`
	State  string `yaml:"state,omitempty" validate:"omitempty,oneof=installed absent latest"`
	When   *When  `yaml:"when,omitempty"`
	Notify string `yaml:"notify,omitempty"`
}

// ServiceResource manages a system service.
type ServiceResource struct {
	Name    string `yaml:"name" validate:"required,artifact_name"`
	State   string `yaml:"state,omitempty" validate:"omitempty,oneof=started stopped restarted reloaded"`
	Enabled *bool  `yaml:"enabled,omitempty"`
	When    *When  `yaml:"when,omitempty"`
	Notify  string `yaml:"notify,omitempty"`
}

// FileResource manages a file's existence, content and ownership.
type FileResource struct {
	Path    string `yaml:"path" validate:"required"`
	State   string `yaml:"state,omitempty" validate:"omitempty,oneof=present absent"`
	Content string `yaml:"content,omitempty"`
	Mode    string `yaml:"mode,omitempty" validate:"omitempty,file_mode"`
	Owner   string `yaml:"owner,omitempty"`
	Group   string `yaml:"group,omitempty"`
	When    *When  `yaml:"when,omitempty"`
	Notify  string `yaml:"notify,omitempty"`
}

// DirectoryResource manages a directory.
type DirectoryResource struct {
	Path   string `yaml:"path" validate:"required"`
	State  string `yaml:"state,omitempty" validate:"omitempty,oneof=present absent"`
	Mode   string `yaml:"mode,omitempty" validate:"omitempty,file_mode"`
	Owner  string `yaml:"owner,omitempty"`
	Group  string `yaml:"group,omitempty"`
	When   *When  `yaml:"when,omitempty"`
	Notify string `yaml:"notify,omitempty"`
}

// UserResource manages a system user account.
type UserResource struct {
	Name   string   `yaml:"name" validate:"required,sudo_user"`
	State  string   `yaml:"state,omitempty" validate:"omitempty,oneof=present absent"`
	UID    int      `yaml:"uid,omitempty"`
	Shell  string   `yaml:"shell,omitempty"`
	Home   string   `yaml:"home,omitempty"`
	Groups []string `yaml:"groups,omitempty"`
	System bool     `yaml:"system,omitempty"`
	When   *When    `yaml:"when,omitempty"`
	Notify string   `yaml:"notify,omitempty"`
}

// GroupResource manages a system group.
type GroupResource struct {
	Name   string `yaml:"name" validate:"required,sudo_user"`
	State  string `yaml:"state,omitempty" validate:"omitempty,oneof=present absent"`
	GID    int    `yaml:"gid,omitempty"`
	System bool   `yaml:"system,omitempty"`
	When   *When  `yaml:"when,omitempty"`
	Notify string `yaml:"notify,omitempty"`
}

// CommandResource runs a shell command guarded by idempotency conditions.
type CommandResource struct {
	Cmd     string `yaml:"cmd" validate:"required,min=1"`
	Creates string `yaml:"creates,omitempty"`
	Removes string `yaml:"removes,omitempty"`
	Unless  string `yaml:"unless,omitempty"`
	OnlyIf  string `yaml:"onlyif,omitempty"`
	Sudo    bool   `yaml:"sudo,omitempty"`
	When    *When  `yaml:"when,omitempty"`
	Notify  string `yaml:"notify,omitempty"`
}

// UploadStep transfers a local file to the target host.
type UploadStep struct {
	Source      string `yaml:"source" validate:"required,safe_path"`
	Destination string `yaml:"destination" validate:"required"`
	Mode        string `yaml:"mode,omitempty" validate:"omitempty,file_mode"`
	Owner       string `yaml:"owner,omitempty"`
	Group       string `yaml:"group,omitempty"`
}

// DownloadStep transfers a remote file to the local machine.
type DownloadStep struct {
	Source      string `yaml:"source" validate:"required"`
	Destination string `yaml:"destination" validate:"required,safe_path"`
}

// TemplateStep renders a local template with facts and vars, then uploads it.
type TemplateStep struct {
	Source      string            `yaml:"source" validate:"required,safe_path"`
	Destination string            `yaml:"destination" validate:"required"`
	Vars        map[string]string `yaml:"vars,omitempty"`
	Mode        string            `yaml:"mode,omitempty" validate:"omitempty,file_mode"`
}

// WaitFor kinds.
const (
	WaitForHTTP    = "http"
	WaitForTCP     = "tcp"
	WaitForCommand = "command"
)

// WaitForStep polls until a health condition holds.
type WaitForStep struct {
	Kind     string `yaml:"kind" validate:"required,oneof=http tcp command"`
	URL      string `yaml:"url,omitempty"`
	Status   int    `yaml:"status,omitempty" validate:"omitempty,min=100,max=599"`
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	Cmd      string `yaml:"cmd,omitempty"`
	Interval int    `yaml:"interval,omitempty" validate:"omitempty,min=1"`
	Timeout  int    `yaml:"timeout,omitempty" validate:"omitempty,min=1"`
}
