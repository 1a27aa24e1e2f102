// Package mirror owns the cache-side representation of store entities: the
// key layout other services read and the JSON projections stored under it.
package mirror

const (
	KeyPublicPosts      = "posts:public:ids"
	KeyFailedWrites     = "failed-writes:list"
	KeyDeadLetters      = "dlq:messages"
	KeyConsistencyStats = "consistency:stats"
	KeySweepLock        = "failed-writes:sweep-lock"
)

func UserKey(id string) string { return "user:" + id }
func UserEmailKey(email string) string { return "user:email:" + email }
func PostKey(id string) string { return "post:" + id }
func CreatorPostsKey(id string) string { return "posts:creator:" + id }
func MediaKey(id string) string { return "media:" + id }
func FailedWriteKey(id string) string { return "failed-writes:" + id }
func DeadLetterKey(id string) string { return "dlq:msg:" + id }
