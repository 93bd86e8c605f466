package pipeline

import "fmt"

// sortWaves validates a stage composition and orders it into dependency waves:
// every stage in wave N has all its dependencies in waves < N. Declaration
// order is preserved within each wave, so the flattened order is the stable
// topological order of the DAG with ties broken by declaration.
//
// Returns an error for duplicate stage names, dependencies on unknown stages,
// and cycles. These are configuration errors detected at construction time,
// never runtime job failures.
func sortWaves(specs []StageSpec) ([][]StageSpec, error) {
	byName := make(map[string]StageSpec, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("stage with empty name")
		}
		if _, exists := byName[spec.Name]; exists {
			return nil, fmt.Errorf("duplicate stage name: %s", spec.Name)
		}
		byName[spec.Name] = spec
	}
	for _, spec := range specs {
		for _, dep := range spec.DependsOn {
			if dep == spec.Name {
				return nil, fmt.Errorf("stage %s depends on itself", spec.Name)
			}
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("stage %s depends on unknown stage %s", spec.Name, dep)
			}
		}
	}

	placed := make(map[string]bool, len(specs))
	remaining := append([]StageSpec(nil), specs...)
	var waves [][]StageSpec

	for len(remaining) > 0 {
		var wave []StageSpec
		var next []StageSpec
		for _, spec := range remaining {
			if depsPlaced(spec, placed) {
				wave = append(wave, spec)
			} else {
				next = append(next, spec)
			}
		}
		if len(wave) == 0 {
			names := make([]string, 0, len(next))
			for _, spec := range next {
				names = append(names, spec.Name)
			}
			return nil, fmt.Errorf("dependency cycle among stages: %v", names)
		}
		for _, spec := range wave {
			placed[spec.Name] = true
		}
		waves = append(waves, wave)
		remaining = next
	}

	return waves, nil
}

func depsPlaced(spec StageSpec, placed map[string]bool) bool {
	for _, dep := range spec.DependsOn {
		if !placed[dep] {
			return false
		}
	}
	return true
}
