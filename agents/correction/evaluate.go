package correction

import (
	"github.com/lexcodex/codeforge/framework"
	"github.com/lexcodex/codeforge/framework/fileparse"
	"github.com/lexcodex/codeforge/framework/validation"
)

// Evaluator turns completion text into a validated Candidate. Base is the
// artifact as committed before the step; it is used for import resolution
// but findings are only reported for the candidate's own files.
type Evaluator struct {
	Validator *validation.Validator
	Mode      validation.Mode
	Role      framework.AgentRole
	Base      []framework.ArtifactFile
}

func (e Evaluator) validator() *validation.Validator {
	if e.Validator == nil {
		return validation.New()
	}
	return e.Validator
}

// Evaluate parses text and validates the result. Files parsed from text are
// overlaid on prior, so a revision that re-emits only some files keeps the
// rest of the previous candidate.
func (e Evaluator) Evaluate(text string, prior []framework.ArtifactFile) Candidate {
	files := framework.MergeFiles(prior, fileparse.Parse(text))
	return Candidate{Text: text, Files: files, Result: e.Check(text, files)}
}

// Check validates files in the context of Base.
func (e Evaluator) Check(output string, files []framework.ArtifactFile) validation.Result {
	in := validation.Input{
		Files:  framework.MergeFiles(e.Base, files),
		Mode:   e.Mode,
		Role:   e.Role,
		Output: output,
	}
	if len(e.Base) > 0 {
		in.Focus = make([]string, 0, len(files))
		for _, f := range files {
			in.Focus = append(in.Focus, f.Path)
		}
	}
	return e.validator().Check(in)
}
