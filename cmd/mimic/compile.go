package main

import (
	"os"

	"github.com/mimic/mimic/internal/codegen"
	"github.com/mimic/mimic/internal/errs"
	"github.com/mimic/mimic/internal/lexer"
	"github.com/mimic/mimic/internal/linker"
	"github.com/mimic/mimic/internal/logging"
	"github.com/mimic/mimic/internal/object"
	"github.com/mimic/mimic/internal/parser"
	"github.com/mimic/mimic/internal/stream"
	"github.com/spf13/cobra"
)

func newCompileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile <src.c>... <out.mimi>",
		Short: "run the C5->C6->C7->C8 pipeline and link the result into a .mimi image",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, out := args[:len(args)-1], args[len(args)-1]
			return runCompile(sources, out)
		},
	}
	return cmd
}

func runCompile(sources []string, out string) error {
	l := linker.New()
	for _, src := range sources {
		obj, err := compileOne(src)
		if err != nil {
			return err
		}
		if err := l.Add(obj); err != nil {
			return errs.New(errs.INVAL, "linking %s: %v", src, err)
		}
	}

	f, err := l.Link()
	if err != nil {
		return err
	}

	w, err := os.Create(out)
	if err != nil {
		return errs.New(errs.IO, "creating %s: %v", out, err)
	}
	defer w.Close()
	if err := f.WriteTo(w); err != nil {
		return errs.New(errs.IO, "writing %s: %v", out, err)
	}

	logging.Pass(log, "link", out).WithField("entry_offset", f.Header.EntryOffset).Info("wrote image")
	return nil
}

// compileOne runs a single source file through C5 (lexer), C6 (parser),
// and C7 (codegen), returning the resulting object, per spec.md section
// 4.5/4.6's pass-file data flow.
func compileOne(src string) (*object.File, error) {
	entry := logging.Pass(log, "compile", src)

	r, err := os.Open(src)
	if err != nil {
		return nil, errs.New(errs.IO, "opening %s: %v", src, err)
	}
	defer r.Close()

	reader := stream.NewReader(r, 4096)
	tf, err := lexer.New(reader).Lex()
	if err != nil {
		return nil, errs.New(errs.NOEXEC, "%s: lex error: %v", src, err)
	}
	entry.WithField("tokens", len(tf.Tokens())).Debug("lexed")

	tree, err := parser.New(tf).Parse()
	if err != nil {
		return nil, errs.New(errs.NOEXEC, "%s: parse error: %v", src, err)
	}

	obj, err := codegen.New(tree).Generate()
	if err != nil {
		return nil, errs.New(errs.NOEXEC, "%s: codegen error: %v", src, err)
	}
	entry.WithField("text_bytes", len(obj.Text)).Info("compiled")
	return obj, nil
}
