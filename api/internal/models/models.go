package models // 模型包

import ( // 依赖导入
	"time" // 时间类型
)

type User struct { // 用户模型
	ID          string    // 用户 ID
	Email       string    // 规范化邮箱
	Username    string    // 用户名
	DisplayName *string   // 显示名称
	Role        string    // 角色
	AvatarURL   *string   // 头像地址
	Bio         *string   // 简介
	IsVerified  bool      // 是否认证
	CreatedAt   time.Time // 创建时间
	UpdatedAt   time.Time // 更新时间
}

type Post struct { // 帖子模型
	ID           string    // 帖子 ID
	CreatorID    string    // 创作者 ID
	Content      *string   // 正文
	Visibility   string    // 可见性
	MediaIDs     []string  // 媒体 ID 列表
	LikeCount    int64     // 点赞数
	CommentCount int64     // 评论数
	Price        *float64  // 付费价格
	CreatedAt    time.Time // 创建时间
	UpdatedAt    time.Time // 更新时间
}

type Like struct { // 点赞模型
	PostID    string    // 帖子 ID
	UserID    string    // 用户 ID
	CreatedAt time.Time // 创建时间
}

type Comment struct { // 评论模型
	ID        string    // 评论 ID
	PostID    string    // 帖子 ID
	UserID    string    // 用户 ID
	Content   string    // 内容
	ParentID  *string   // 父评论 ID
	CreatedAt time.Time // 创建时间
}

type Media struct { // 媒体模型
	ID        string    // 媒体 ID
	OwnerID   string    // 上传者 ID
	PostID    *string   // 所属帖子 ID
	MediaType string    // 媒体类型
	URL       string    // 存储地址
	SizeBytes int64     // 字节数
	CreatedAt time.Time // 创建时间
}

type Subscription struct { // 订阅模型
	ID           string     // 订阅 ID
	SubscriberID string     // 订阅者 ID
	CreatorID    string     // 创作者 ID
	TierID       *string    // 档位 ID
	Status       string     // 状态
	ExpiresAt    *time.Time // 到期时间
	CreatedAt    time.Time  // 创建时间
}

type Tier struct { // 订阅档位模型
	ID          string    // 档位 ID
	CreatorID   string    // 创作者 ID
	Name        string    // 名称
	Price       float64   // 价格
	Description *string   // 描述
	Benefits    []string  // 权益列表
	CreatedAt   time.Time // 创建时间
}

type Payment struct { // 支付模型
	ID          string    // 支付 ID
	UserID      string    // 付款用户 ID
	Type        string    // 支付类型
	Amount      float64   // 金额
	Currency    string    // 币种
	Status      string    // 状态
	ReferenceID *string   // 关联单号
	CreatedAt   time.Time // 创建时间
}

type Tip struct { // 打赏模型
	ID        string    // 打赏 ID
	SenderID  string    // 打赏者 ID
	CreatorID string    // 创作者 ID
	Amount    float64   // 金额
	PostID    *string   // 关联帖子 ID
	Message   *string   // 留言
	CreatedAt time.Time // 创建时间
}

type Purchase struct { // 购买模型
	ID        string    // 购买 ID
	BuyerID   string    // 购买者 ID
	PostID    string    // 帖子 ID
	Amount    float64   // 金额
	CreatedAt time.Time // 创建时间
}
