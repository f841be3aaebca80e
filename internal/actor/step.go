package actor

// Step applies a reducer to a single (state, input) pair and returns the next
// state and effects. Testing utility; it does not execute effects.
func Step[S any](state S, input Input, reducer ReducerFunc[S]) (S, []Effect) {
	return reducer(state, input)
}

// Drive applies a reducer to a sequence of inputs, collecting all effects.
// Testing utility for multi-step scenarios.
func Drive[S any](state S, reducer ReducerFunc[S], inputs ...Input) (S, []Effect) {
	var all []Effect
	for _, in := range inputs {
		var effects []Effect
		state, effects = reducer(state, in)
		all = append(all, effects...)
	}
	return state, all
}
