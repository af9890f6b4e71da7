package models

// ProgramTemplate is a named training program made of days.
type ProgramTemplate struct {
	ID          string        `yaml:"id" json:"id"`
	Name        string        `yaml:"name" json:"name"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	Days        []TemplateDay `yaml:"days" json:"days"`
}

// TemplateDay is one workout day inside a program.
type TemplateDay struct {
	Name      string             `yaml:"name" json:"name"`
	Exercises []TemplateExercise `yaml:"exercises" json:"exercises"`
}

// TemplateExercise prescribes target sets for one exercise.
type TemplateExercise struct {
	Name   string  `yaml:"name" json:"name"`
	Sets   int     `yaml:"sets" json:"sets"`
	Reps   int     `yaml:"reps" json:"reps"`
	Weight float64 `yaml:"weight,omitempty" json:"weight,omitempty"`
}
