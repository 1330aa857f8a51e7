package tools

import (
	"context"
	"fmt"

	"github.com/nstogner/devcli/pkg/sandbox"
)

// ReadFileArgs and the other argument structs define each tool's input
// schema. Fields without omitempty are required.
type ReadFileArgs struct {
	Path string `json:"path" jsonschema:"required,description=Path of the file to read relative to the project directory."`
}

type WriteFileArgs struct {
	Path    string `json:"path" jsonschema:"required,description=Path of the file to write relative to the project directory."`
	Content string `json:"content" jsonschema:"required,description=The full content to write. Replaces any existing content."`
}

type DeleteFileArgs struct {
	Path string `json:"path" jsonschema:"required,description=Path of the file to delete relative to the project directory."`
}

type ListFilesArgs struct {
	DirPath string `json:"dir_path,omitempty" jsonschema:"description=Directory to list recursively. Defaults to the project directory.,default=."`
}

type RunCommandArgs struct {
	Command string `json:"command" jsonschema:"required,description=Shell command to run in the project directory."`
}

type definition struct {
	description string
	args        any
	call        func(ctx context.Context, r *Registry, v *validator, args map[string]any) (Result, error)
}

var definitions = [numTools]definition{
	ReadFile: {
		description: "Read the contents of a file.",
		args:        &ReadFileArgs{},
		call:        callReadFile,
	},
	WriteFile: {
		description: "Write content to a file, creating it or replacing what it holds.",
		args:        &WriteFileArgs{},
		call:        callWriteFile,
	},
	DeleteFile: {
		description: "Delete a file.",
		args:        &DeleteFileArgs{},
		call:        callDeleteFile,
	},
	ListFiles: {
		description: "List every file below a directory, relative to the project directory.",
		args:        &ListFilesArgs{},
		call:        callListFiles,
	},
	RunCommand: {
		description: "Run a shell command and return its standard output followed by its standard error.",
		args:        &RunCommandArgs{},
		call:        callRunCommand,
	},
}

func callReadFile(_ context.Context, r *Registry, v *validator, raw map[string]any) (Result, error) {
	var args ReadFileArgs
	if err := v.check(raw, &args); err != nil {
		return Result{}, err
	}
	content, err := r.files.Read(args.Path)
	if err != nil {
		return fileFailure(args.Path, err, func(e error) string {
			if sandbox.KindOf(e) == sandbox.KindNotFound {
				return fmt.Sprintf("Error: %s not found.", args.Path)
			}
			return fmt.Sprintf("Error reading %s: %s", args.Path, reason(e))
		}), nil
	}
	return Result{Text: content}, nil
}

func callWriteFile(_ context.Context, r *Registry, v *validator, raw map[string]any) (Result, error) {
	var args WriteFileArgs
	if err := v.check(raw, &args); err != nil {
		return Result{}, err
	}
	if err := r.files.Write(args.Path, args.Content); err != nil {
		return fileFailure(args.Path, err, func(e error) string {
			return fmt.Sprintf("Error writing %s: %s", args.Path, reason(e))
		}), nil
	}
	return Result{Text: fmt.Sprintf("%s has been written.", args.Path)}, nil
}

func callDeleteFile(_ context.Context, r *Registry, v *validator, raw map[string]any) (Result, error) {
	var args DeleteFileArgs
	if err := v.check(raw, &args); err != nil {
		return Result{}, err
	}
	if err := r.files.Delete(args.Path); err != nil {
		return fileFailure(args.Path, err, func(e error) string {
			if sandbox.KindOf(e) == sandbox.KindNotFound {
				return fmt.Sprintf("%s does not exist.", args.Path)
			}
			return fmt.Sprintf("Error deleting %s: %s", args.Path, reason(e))
		}), nil
	}
	return Result{Text: fmt.Sprintf("%s has been deleted.", args.Path)}, nil
}

func callListFiles(_ context.Context, r *Registry, v *validator, raw map[string]any) (Result, error) {
	var args ListFilesArgs
	if err := v.check(raw, &args); err != nil {
		return Result{}, err
	}
	if args.DirPath == "" {
		args.DirPath = "."
	}
	files, err := r.files.List(args.DirPath)
	if err != nil {
		if sandbox.KindOf(err) == sandbox.KindAccessDenied {
			return Result{Items: []string{sandbox.AccessDenied}, Kind: sandbox.KindAccessDenied}, nil
		}
		return Result{
			Items: []string{},
			Text:  fmt.Sprintf("Error listing %s: %s", args.DirPath, reason(err)),
			Kind:  sandbox.KindOf(err),
		}, nil
	}
	return Result{Items: files}, nil
}

func callRunCommand(ctx context.Context, r *Registry, v *validator, raw map[string]any) (Result, error) {
	var args RunCommandArgs
	if err := v.check(raw, &args); err != nil {
		return Result{}, err
	}
	out := r.runner.Run(ctx, args.Command)
	return Result{Text: out.Output, Kind: out.Kind, ExitCode: &out.ExitCode}, nil
}

// fileFailure renders a sandbox error. Denial always reads "Access denied.";
// other kinds are rendered by msg.
func fileFailure(path string, err error, msg func(error) string) Result {
	kind := sandbox.KindOf(err)
	if kind == sandbox.KindAccessDenied {
		return Result{Text: sandbox.AccessDenied, Kind: kind}
	}
	return Result{Text: msg(err), Kind: kind}
}

// reason extracts the underlying cause of a sandbox error for display.
func reason(err error) string {
	if se, ok := err.(*sandbox.Error); ok && se.Err != nil {
		return se.Err.Error()
	}
	return err.Error()
}
