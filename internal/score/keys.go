package score

// Cross-cutting cardinality keys and labels of comment-derived scores.
const (
	// CommentsKey names the COMMENTS score and its batch-wide statistic over
	// per-record comment averages.
	CommentsKey = "COMMENTS"
	// CommentRatingsKey is the batch-wide statistic over every individual
	// comment rating, all sources included.
	CommentRatingsKey = "COMMENTS_RATINGS"
	CommentsTag       = "COMMENTS"
	CommentsSource    = "comments"
)
