package dao

import (
	"go.uber.org/zap"
	"gorm.io/gorm"
)

/*
DAO 统一 GORM 数据访问对象
功能：封装规则表的全部 SQL 操作，上层 store 只通过 DAO 访问数据库。
每个方法只在自身执行期间占用连接，返回前释放
*/
type DAO struct {
	DB     *gorm.DB
	logger *zap.Logger
}

/*
New 创建 DAO 实例
*/
func New(db *gorm.DB) *DAO {
	return &DAO{
		DB:     db,
		logger: zap.L().Named("dao"),
	}
}

/*
Transaction 在事务中执行多个数据库操作
功能：自动提交成功的事务，自动回滚失败的事务。
fn 内通过 txDAO 执行的所有操作共享同一事务
*/
func (d *DAO) Transaction(fn func(txDAO *DAO) error) error {
	return d.DB.Transaction(func(tx *gorm.DB) error {
		txDAO := &DAO{
			DB:     tx,
			logger: d.logger,
		}
		return fn(txDAO)
	})
}
