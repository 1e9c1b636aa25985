package dao

import (
	"errors"
	"regexp"

	"portfwd/internal/db/models"
	"portfwd/internal/rule"

	"gorm.io/gorm"
)

/* database/sql 的列转换错误没有导出类型，只能从错误文本取列名 */
var scanErrorPattern = regexp.MustCompile(`Scan error on column index \d+, name "([^"]+)"`)

/*
classifyScanError 把列值无法转换为模型字段类型的错误归类为 *rule.DecodeError
功能：例如整数列里存了文本；其他错误原样返回
*/
func classifyScanError(id int64, err error) error {
	m := scanErrorPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return err
	}
	return &rule.DecodeError{ID: id, Column: m[1], Reason: err.Error()}
}

/* ==================== 转发规则 CRUD ==================== */

/*
CreateRuleRow 插入规则行
功能：ID 由数据库自增生成并回填到 row.ID
*/
func (d *DAO) CreateRuleRow(row *models.RuleRow) error {
	row.ID = 0
	return d.DB.Create(row).Error
}

/*
ReplaceRuleRow 按 ID 整行覆盖规则
功能：除主键外的所有列都被写入（不是部分更新）。
返回：受影响行数，0 表示该 ID 不存在
*/
func (d *DAO) ReplaceRuleRow(row *models.RuleRow) (int64, error) {
	var affected int64
	err := d.Transaction(func(tx *DAO) error {
		res := tx.DB.Model(&models.RuleRow{}).
			Where("id = ?", row.ID).
			Select("*").
			Omit("id").
			Updates(row)
		if res.Error != nil {
			return res.Error
		}
		affected = res.RowsAffected
		if affected > 0 {
			return nil
		}

		/* 部分引擎（MySQL）在新旧值相同时报告 0 行，需要再确认行是否存在 */
		var count int64
		if err := tx.DB.Model(&models.RuleRow{}).Where("id = ?", row.ID).Count(&count).Error; err != nil {
			return err
		}
		affected = count
		return nil
	})
	return affected, err
}

/*
GetRuleRow 获取规则行
返回：不存在时返回 nil, nil
*/
func (d *DAO) GetRuleRow(id int64) (*models.RuleRow, error) {
	var row models.RuleRow
	if err := d.DB.Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, classifyScanError(id, err)
	}
	return &row, nil
}

/*
ListRuleRows 列出全部规则行
功能：按 ID 倒序（最新创建的在前），展示层依赖此顺序。
任一行的列值类型不匹配时返回 *rule.DecodeError（ID 未知，为 0）
*/
func (d *DAO) ListRuleRows() ([]models.RuleRow, error) {
	var rows []models.RuleRow
	if err := d.DB.Order("id DESC").Find(&rows).Error; err != nil {
		return nil, classifyScanError(0, err)
	}
	return rows, nil
}

/*
DeleteRuleRow 删除规则行
返回：实际删除的行数（0 或 1）
*/
func (d *DAO) DeleteRuleRow(id int64) (int64, error) {
	res := d.DB.Where("id = ?", id).Delete(&models.RuleRow{})
	return res.RowsAffected, res.Error
}

/*
CountRuleRows 统计规则数量
*/
func (d *DAO) CountRuleRows() (int64, error) {
	var count int64
	err := d.DB.Model(&models.RuleRow{}).Count(&count).Error
	return count, err
}
