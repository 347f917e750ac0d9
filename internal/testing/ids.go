package testing

// BatchUserIDs splits single userIDs slice into pairs where the first one is always the first provided
// userID e.g. [0, 1, 2, 3] -> [[0,1], [0,2], [0,3]]
func BatchUserIDs(userIDs []int64) [][]int64 {
	if len(userIDs) < 2 {
		return nil
	}
	batches := make([][]int64, 0, len(userIDs)-1)
	for i := 1; i < len(userIDs); i++ {
		batches = append(batches, []int64{userIDs[0], userIDs[i]})
	}

	return batches
}

// ReverseIDs returns a reversed copy of ids, handy for checking that pair lookups are symmetric
func ReverseIDs(ids []int64) []int64 {
	reversed := make([]int64, len(ids))
	copy(reversed, ids)

	for i := len(reversed)/2 - 1; i >= 0; i-- {
		opp := len(reversed) - 1 - i
		reversed[i], reversed[opp] = reversed[opp], reversed[i]
	}

	return reversed
}
