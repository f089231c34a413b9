package pipeline

import "strings"

// Pipeline is the root object that holds the entire definition of a stepbox job.
// It's populated by parsing the user's pipeline YAML file.
type Pipeline struct {
	Job         string    `mapstructure:"job" yaml:"job" validate:"required,containername"`
	Docker      Docker    `mapstructure:"docker" yaml:"docker"`
	Environment []string  `mapstructure:"environment" yaml:"environment,omitempty" validate:"dive,envpair"`
	Workspace   Workspace `mapstructure:"workspace" yaml:"workspace"`
	Steps       []Step    `mapstructure:"steps" yaml:"steps" validate:"required,min=1,dive"`
	Notify      Notify    `mapstructure:"notify" yaml:"notify"`
}

// Docker configures the container every step runs in.
type Docker struct {
	Image              string `mapstructure:"image" yaml:"image,omitempty"`
	IncludeEnvironment string `mapstructure:"include_environment" yaml:"include_environment,omitempty"`
	Options            string `mapstructure:"options" yaml:"options,omitempty"`
	Binary             string `mapstructure:"binary" yaml:"binary,omitempty"`
}

// Workspace describes where the build runs and how it is populated.
type Workspace struct {
	Path     string    `mapstructure:"path" yaml:"path,omitempty"`
	Source   string    `mapstructure:"source" yaml:"source,omitempty"`
	Checkout *Checkout `mapstructure:"checkout" yaml:"checkout,omitempty" validate:"omitempty"`
}

// Checkout is a git repository cloned into the workspace.
type Checkout struct {
	URL      string `mapstructure:"url" yaml:"url" validate:"required"`
	Ref      string `mapstructure:"ref" yaml:"ref,omitempty"`
	// TokenEnv names the variable holding an access token for HTTP remotes.
	TokenEnv string `mapstructure:"token_env" yaml:"token_env,omitempty"`
}

// Step is one command of the job.
type Step struct {
	Name    string   `mapstructure:"name" yaml:"name" validate:"required"`
	Shell   string   `mapstructure:"shell" yaml:"shell,omitempty" validate:"required_without=Command,excluded_with=Command"`
	Command []string `mapstructure:"command" yaml:"command,omitempty" validate:"required_without=Shell"`
	Input   string   `mapstructure:"input" yaml:"input,omitempty"`
	Mask    []int    `mapstructure:"mask" yaml:"mask,omitempty" validate:"dive,min=0"`
}

// Notify holds the optional commit status reporters.
type Notify struct {
	GitLab *GitLab `mapstructure:"gitlab" yaml:"gitlab,omitempty" validate:"omitempty"`
}

// GitLab reports the build result as a commit status.
type GitLab struct {
	URL      string `mapstructure:"url" yaml:"url" validate:"required,url"`
	Project  string `mapstructure:"project" yaml:"project" validate:"required"`
	TokenEnv string `mapstructure:"token_env" yaml:"token_env,omitempty"`
	Name     string `mapstructure:"name" yaml:"name,omitempty"`
}

// DefaultTokenEnv is read when a GitLab notifier names no token variable.
const DefaultTokenEnv = "GITLAB_PRIVATE_TOKEN"

// DefaultStatusName is the commit status name used when none is configured.
const DefaultStatusName = "stepbox"

// Token returns the variable holding the GitLab access token.
func (g GitLab) Token() string {
	if g.TokenEnv == "" {
		return DefaultTokenEnv
	}
	return g.TokenEnv
}

// StatusName returns the commit status name.
func (g GitLab) StatusName() string {
	if g.Name == "" {
		return DefaultStatusName
	}
	return g.Name
}

// Variables returns the pipeline environment as a map.
func (p *Pipeline) Variables() map[string]string {
	vars := make(map[string]string, len(p.Environment))
	for _, kv := range p.Environment {
		k, v, _ := strings.Cut(kv, "=")
		vars[k] = v
	}
	return vars
}

// Args returns the command line of the step. Shell steps run as
// /bin/sh -xe -c <script>, so a failing line fails the step.
func (s Step) Args() []string {
	if s.Shell != "" {
		return []string{"/bin/sh", "-xec", s.Shell}
	}
	return append([]string(nil), s.Command...)
}

// Masks returns a mask per command token, or nil when the step masks nothing.
func (s Step) Masks() []bool {
	if len(s.Mask) == 0 {
		return nil
	}
	args := s.Args()
	masks := make([]bool, len(args))
	for _, i := range s.Mask {
		if i >= 0 && i < len(masks) {
			masks[i] = true
		}
	}
	return masks
}
