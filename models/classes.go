package models

import (
	"fmt"

	"github.com/pkg/errors"
)

// OutputClass represents one model label.
type OutputClass struct {
	// The integer index returned by the model.
	Index int `json:"index" yaml:"index"`
	// The human-readable label.
	Name string `json:"name" yaml:"name"`
}

// OutputClassSet is the ordered class-name table of one model.
type OutputClassSet struct {
	// Class set identifier.
	Task ModelTask
	// Classes that are supported and mappable, indexed by class id.
	Classes []OutputClass
	// nameToIdx for fast lookup by name
	nameToIdx map[string]int
}

// NewOutputClassSet builds a class set from names ordered by class id.
func NewOutputClassSet(task ModelTask, names ...string) *OutputClassSet {
	set := &OutputClassSet{Task: task, Classes: make([]OutputClass, len(names))}
	for i, name := range names {
		set.Classes[i] = OutputClass{Index: i, Name: name}
	}
	set.BuildNameIndexMap()
	return set
}

// BuildNameIndexMap builds or rebuilds the name->index map.
func (s *OutputClassSet) BuildNameIndexMap() {
	s.nameToIdx = make(map[string]int, len(s.Classes))
	for _, c := range s.Classes {
		s.nameToIdx[c.Name] = c.Index
	}
}

// Len returns the number of classes in the set. A nil set has no classes.
func (s *OutputClassSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Classes)
}

// Name resolves a class index. An index outside the table never fails; it
// yields the synthetic label returned by UnknownClassName.
func (s *OutputClassSet) Name(idx int) string {
	if s == nil || idx < 0 || idx >= len(s.Classes) {
		return UnknownClassName(idx)
	}
	return s.Classes[idx].Name
}

// Index returns the class index for a name.
func (s *OutputClassSet) Index(name string) (int, error) {
	if s.nameToIdx == nil {
		s.BuildNameIndexMap()
	}
	idx, ok := s.nameToIdx[name]
	if !ok {
		return -1, errors.Errorf("name %q not found in %s classes", name, s.Task)
	}
	return idx, nil
}

// Names returns the class names ordered by index.
func (s *OutputClassSet) Names() []string {
	names := make([]string, s.Len())
	for i := range names {
		names[i] = s.Classes[i].Name
	}
	return names
}

// UnknownClassName is the label used for class indices outside a table.
func UnknownClassName(idx int) string {
	return fmt.Sprintf("unknown class #%d", idx)
}

// LeafDetectorClassNames is the class table of the tomato leaf detector.
var LeafDetectorClassNames = []string{"tomato_leaf"}

// DiseaseClassNames is the class table of the tomato disease classifier.
var DiseaseClassNames = []string{
	"Tomato_Bacterial_spot",
	"Tomato_Early_blight",
	"Tomato_healthy",
	"Tomato_Late_blight",
	"Tomato_Leaf_Mold",
	"Tomato_mosaic_virus",
	"Tomato_Septoria_leaf_spot",
	"Tomato_Spider_mites Two-spotted_spider_mite",
	"Tomato_Target_Spot",
	"Tomato_Yellow_Leaf_Curl_Virus",
}
