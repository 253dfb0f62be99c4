package engine

import (
	"fmt"
	"math"
	"sort"

	"AutoMLTrainPlatform/internal/dataset"
)

// 候选模型名
const (
	ModelMeanPredictor    = "MeanPredictor"
	ModelLinearRegression = "LinearRegression"
	ModelRidgeRegression  = "RidgeRegression"
	ModelMajorityClass    = "MajorityClass"
	ModelNaiveBayes       = "NaiveBayes"
	ModelNearestCentroid  = "NearestCentroid"
)

// gaussianStat 单个特征在某个类别下的高斯统计量
type gaussianStat struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// fittedModel 拟合后的模型参数，可序列化到model.json
type fittedModel struct {
	Name        string `json:"name"`
	ProblemType string `json:"problem_type"`

	// 回归参数
	Mean         float64            `json:"mean,omitempty"`
	Intercept    float64            `json:"intercept,omitempty"`
	Weights      map[string]float64 `json:"weights,omitempty"`
	FeatureMeans map[string]float64 `json:"feature_means,omitempty"`

	// 分类参数
	Classes       []string                                 `json:"classes,omitempty"`
	Majority      string                                   `json:"majority,omitempty"`
	Priors        map[string]float64                       `json:"priors,omitempty"`
	Gaussians     map[string]map[string]gaussianStat       `json:"gaussians,omitempty"`
	CatLikelihood map[string]map[string]map[string]float64 `json:"cat_likelihood,omitempty"`
	Centroids     map[string]map[string]float64            `json:"centroids,omitempty"`
}

// trainingData 按特征拆分后的训练数据视图
type trainingData struct {
	frame       *dataset.Frame
	target      string
	numericCols []string
	catCols     []string
	rows        []int // 参与训练的行下标（目标值非缺失）
}

// buildTrainingData 收集特征列并过滤掉目标缺失的行
func buildTrainingData(frame *dataset.Frame, target string) (*trainingData, error) {
	targetIdx := frame.ColumnIndex(target)
	if targetIdx < 0 {
		return nil, fmt.Errorf("target column %q not found", target)
	}

	td := &trainingData{frame: frame, target: target}
	for i, col := range frame.Columns() {
		if col == target {
			continue
		}
		if frame.IsNumericColumn(i) {
			td.numericCols = append(td.numericCols, col)
		} else {
			td.catCols = append(td.catCols, col)
		}
	}
	for row := 0; row < frame.NumRows(); row++ {
		if !dataset.IsMissing(frame.Cell(row, targetIdx)) {
			td.rows = append(td.rows, row)
		}
	}
	if len(td.rows) == 0 {
		return nil, ErrEmptyDataset
	}
	return td, nil
}

// featureColumns 全部特征列名
func (td *trainingData) featureColumns() []string {
	out := append([]string(nil), td.numericCols...)
	return append(out, td.catCols...)
}

// inferProblemType 根据目标列推断任务类型。显式指定时直接使用。
func inferProblemType(frame *dataset.Frame, target, declared string) string {
	if declared != "" && declared != "auto" {
		return declared
	}
	idx := frame.ColumnIndex(target)
	if idx < 0 || !frame.IsNumericColumn(idx) {
		if countDistinct(frame, idx) == 2 {
			return "binary"
		}
		return "multiclass"
	}
	return "regression"
}

func countDistinct(frame *dataset.Frame, col int) int {
	if col < 0 {
		return 0
	}
	seen := make(map[string]bool)
	for row := 0; row < frame.NumRows(); row++ {
		if v := frame.Cell(row, col); !dataset.IsMissing(v) {
			seen[v] = true
		}
	}
	return len(seen)
}

// isRegression 任务类型是否为回归
func isRegression(problemType string) bool {
	return problemType == "regression"
}

// --- 回归候选 ---

func fitMeanPredictor(td *trainingData, rows []int, problemType string) *fittedModel {
	idx := td.frame.ColumnIndex(td.target)
	sum, n := 0.0, 0
	for _, row := range rows {
		v := dataset.ParseFloat(td.frame.Cell(row, idx))
		if !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	mean := 0.0
	if n > 0 {
		mean = sum / float64(n)
	}
	return &fittedModel{Name: ModelMeanPredictor, ProblemType: problemType, Mean: mean}
}

// fitLinear 最小二乘线性回归（lambda>0 时为岭回归），仅用数值特征。
// 缺失特征值用训练集均值填充，均值同时保存供预测时使用。
func fitLinear(td *trainingData, rows []int, problemType string, name string, lambda float64) (*fittedModel, error) {
	if len(td.numericCols) == 0 {
		return nil, fmt.Errorf("%s requires at least one numeric feature", name)
	}

	means := make(map[string]float64, len(td.numericCols))
	colIdx := make([]int, len(td.numericCols))
	for j, col := range td.numericCols {
		idx := td.frame.ColumnIndex(col)
		colIdx[j] = idx
		sum, n := 0.0, 0
		for _, row := range rows {
			v := dataset.ParseFloat(td.frame.Cell(row, idx))
			if !math.IsNaN(v) {
				sum += v
				n++
			}
		}
		if n > 0 {
			means[col] = sum / float64(n)
		}
	}

	targetIdx := td.frame.ColumnIndex(td.target)
	dim := len(td.numericCols) + 1 // 截距项在第一列

	// 正规方程 (X^T X + λI) w = X^T y
	xtx := make([][]float64, dim)
	for i := range xtx {
		xtx[i] = make([]float64, dim)
	}
	xty := make([]float64, dim)

	feat := make([]float64, dim)
	for _, row := range rows {
		feat[0] = 1
		for j, idx := range colIdx {
			v := dataset.ParseFloat(td.frame.Cell(row, idx))
			if math.IsNaN(v) {
				v = means[td.numericCols[j]]
			}
			feat[j+1] = v
		}
		y := dataset.ParseFloat(td.frame.Cell(row, targetIdx))
		for i := 0; i < dim; i++ {
			for j := 0; j < dim; j++ {
				xtx[i][j] += feat[i] * feat[j]
			}
			xty[i] += feat[i] * y
		}
	}
	reg := lambda
	if reg <= 0 {
		reg = 1e-8 // 数值稳定性
	}
	for i := 1; i < dim; i++ {
		xtx[i][i] += reg
	}

	weights, err := solveLinearSystem(xtx, xty)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	model := &fittedModel{
		Name:         name,
		ProblemType:  problemType,
		Intercept:    weights[0],
		Weights:      make(map[string]float64, len(td.numericCols)),
		FeatureMeans: means,
	}
	for j, col := range td.numericCols {
		model.Weights[col] = weights[j+1]
	}
	return model, nil
}

// solveLinearSystem 高斯消元解线性方程组
func solveLinearSystem(a [][]float64, b []float64) ([]float64, error) {
	n := len(b)
	m := make([][]float64, n)
	for i := range m {
		m[i] = append(append([]float64(nil), a[i]...), b[i])
	}
	for col := 0; col < n; col++ {
		pivot := col
		for row := col + 1; row < n; row++ {
			if math.Abs(m[row][col]) > math.Abs(m[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(m[pivot][col]) < 1e-12 {
			return nil, fmt.Errorf("singular design matrix")
		}
		m[col], m[pivot] = m[pivot], m[col]
		for row := col + 1; row < n; row++ {
			factor := m[row][col] / m[col][col]
			for k := col; k <= n; k++ {
				m[row][k] -= factor * m[col][k]
			}
		}
	}
	x := make([]float64, n)
	for row := n - 1; row >= 0; row-- {
		sum := m[row][n]
		for col := row + 1; col < n; col++ {
			sum -= m[row][col] * x[col]
		}
		x[row] = sum / m[row][row]
	}
	return x, nil
}

// --- 分类候选 ---

func fitMajorityClass(td *trainingData, rows []int, problemType string) *fittedModel {
	idx := td.frame.ColumnIndex(td.target)
	counts := make(map[string]int)
	for _, row := range rows {
		counts[td.frame.Cell(row, idx)]++
	}
	majority, best := "", -1
	for label, count := range counts {
		if count > best || (count == best && label < majority) {
			majority = label
			best = count
		}
	}
	return &fittedModel{
		Name:        ModelMajorityClass,
		ProblemType: problemType,
		Majority:    majority,
		Classes:     sortedKeys(counts),
	}
}

// fitNaiveBayes 数值特征按类高斯建模，类别特征按频率建模（拉普拉斯平滑）
func fitNaiveBayes(td *trainingData, rows []int, problemType string) (*fittedModel, error) {
	targetIdx := td.frame.ColumnIndex(td.target)

	classRows := make(map[string][]int)
	for _, row := range rows {
		label := td.frame.Cell(row, targetIdx)
		classRows[label] = append(classRows[label], row)
	}
	if len(classRows) < 2 {
		return nil, fmt.Errorf("NaiveBayes requires at least two classes")
	}

	model := &fittedModel{
		Name:          ModelNaiveBayes,
		ProblemType:   problemType,
		Classes:       sortedKeys(classRows),
		Priors:        make(map[string]float64, len(classRows)),
		Gaussians:     make(map[string]map[string]gaussianStat),
		CatLikelihood: make(map[string]map[string]map[string]float64),
	}

	total := float64(len(rows))
	for label, members := range classRows {
		model.Priors[label] = float64(len(members)) / total

		stats := make(map[string]gaussianStat, len(td.numericCols))
		for _, col := range td.numericCols {
			idx := td.frame.ColumnIndex(col)
			sum, n := 0.0, 0
			for _, row := range members {
				v := dataset.ParseFloat(td.frame.Cell(row, idx))
				if !math.IsNaN(v) {
					sum += v
					n++
				}
			}
			if n == 0 {
				continue
			}
			mean := sum / float64(n)
			variance := 0.0
			for _, row := range members {
				v := dataset.ParseFloat(td.frame.Cell(row, idx))
				if !math.IsNaN(v) {
					variance += (v - mean) * (v - mean)
				}
			}
			std := math.Sqrt(variance / float64(n))
			if std < 1e-9 {
				std = 1e-9
			}
			stats[col] = gaussianStat{Mean: mean, Std: std}
		}
		model.Gaussians[label] = stats

		likelihood := make(map[string]map[string]float64, len(td.catCols))
		for _, col := range td.catCols {
			idx := td.frame.ColumnIndex(col)
			counts := make(map[string]int)
			for _, row := range members {
				if v := td.frame.Cell(row, idx); !dataset.IsMissing(v) {
					counts[v]++
				}
			}
			probs := make(map[string]float64, len(counts))
			denom := float64(len(members) + len(counts) + 1)
			for value, count := range counts {
				probs[value] = float64(count+1) / denom
			}
			likelihood[col] = probs
		}
		model.CatLikelihood[label] = likelihood
	}
	return model, nil
}

// fitNearestCentroid 各类别数值特征质心，预测取欧氏距离最近的类
func fitNearestCentroid(td *trainingData, rows []int, problemType string) (*fittedModel, error) {
	if len(td.numericCols) == 0 {
		return nil, fmt.Errorf("NearestCentroid requires at least one numeric feature")
	}
	targetIdx := td.frame.ColumnIndex(td.target)

	sums := make(map[string]map[string]float64)
	counts := make(map[string]map[string]int)
	classCounts := make(map[string]int)
	for _, row := range rows {
		label := td.frame.Cell(row, targetIdx)
		classCounts[label]++
		if sums[label] == nil {
			sums[label] = make(map[string]float64)
			counts[label] = make(map[string]int)
		}
		for _, col := range td.numericCols {
			v := dataset.ParseFloat(td.frame.Cell(row, td.frame.ColumnIndex(col)))
			if !math.IsNaN(v) {
				sums[label][col] += v
				counts[label][col]++
			}
		}
	}
	if len(classCounts) < 2 {
		return nil, fmt.Errorf("NearestCentroid requires at least two classes")
	}

	model := &fittedModel{
		Name:        ModelNearestCentroid,
		ProblemType: problemType,
		Classes:     sortedKeys(classCounts),
		Centroids:   make(map[string]map[string]float64, len(classCounts)),
	}
	for label := range classCounts {
		centroid := make(map[string]float64, len(td.numericCols))
		for _, col := range td.numericCols {
			if n := counts[label][col]; n > 0 {
				centroid[col] = sums[label][col] / float64(n)
			}
		}
		model.Centroids[label] = centroid
	}
	return model, nil
}

// --- 预测 ---

// predictRow 对单行数据预测
func (m *fittedModel) predictRow(frame *dataset.Frame, row int) string {
	switch m.Name {
	case ModelMeanPredictor:
		return dataset.FormatFloat(m.Mean)
	case ModelLinearRegression, ModelRidgeRegression:
		return dataset.FormatFloat(m.predictLinear(frame, row))
	case ModelMajorityClass:
		return m.Majority
	case ModelNaiveBayes:
		return m.predictNaiveBayes(frame, row)
	case ModelNearestCentroid:
		return m.predictNearestCentroid(frame, row)
	default:
		return ""
	}
}

func (m *fittedModel) predictLinear(frame *dataset.Frame, row int) float64 {
	sum := m.Intercept
	for col, weight := range m.Weights {
		idx := frame.ColumnIndex(col)
		v := math.NaN()
		if idx >= 0 {
			v = dataset.ParseFloat(frame.Cell(row, idx))
		}
		if math.IsNaN(v) {
			v = m.FeatureMeans[col]
		}
		sum += weight * v
	}
	return sum
}

func (m *fittedModel) predictNaiveBayes(frame *dataset.Frame, row int) string {
	bestLabel, bestScore := m.Majority, math.Inf(-1)
	for _, label := range m.Classes {
		score := math.Log(m.Priors[label] + 1e-12)
		for col, stat := range m.Gaussians[label] {
			idx := frame.ColumnIndex(col)
			if idx < 0 {
				continue
			}
			v := dataset.ParseFloat(frame.Cell(row, idx))
			if math.IsNaN(v) {
				continue
			}
			z := (v - stat.Mean) / stat.Std
			score += -0.5*z*z - math.Log(stat.Std)
		}
		for col, probs := range m.CatLikelihood[label] {
			idx := frame.ColumnIndex(col)
			if idx < 0 {
				continue
			}
			value := frame.Cell(row, idx)
			if dataset.IsMissing(value) {
				continue
			}
			p, ok := probs[value]
			if !ok {
				p = 1e-6 // 未见过的取极小概率
			}
			score += math.Log(p)
		}
		if score > bestScore {
			bestLabel, bestScore = label, score
		}
	}
	return bestLabel
}

func (m *fittedModel) predictNearestCentroid(frame *dataset.Frame, row int) string {
	bestLabel, bestDist := "", math.Inf(1)
	for _, label := range m.Classes {
		centroid := m.Centroids[label]
		dist := 0.0
		for col, center := range centroid {
			idx := frame.ColumnIndex(col)
			if idx < 0 {
				continue
			}
			v := dataset.ParseFloat(frame.Cell(row, idx))
			if math.IsNaN(v) {
				continue
			}
			dist += (v - center) * (v - center)
		}
		if dist < bestDist {
			bestLabel, bestDist = label, dist
		}
	}
	return bestLabel
}

// --- 评估指标 ---

// scoreRegression 回归评分，统一为越大越好（误差类指标取负）
func scoreRegression(metric string, yTrue, yPred []float64) float64 {
	switch metric {
	case "mean_absolute_error", "mae":
		sum := 0.0
		for i := range yTrue {
			sum += math.Abs(yTrue[i] - yPred[i])
		}
		return -sum / float64(len(yTrue))
	case "r2":
		meanY := 0.0
		for _, y := range yTrue {
			meanY += y
		}
		meanY /= float64(len(yTrue))
		ssRes, ssTot := 0.0, 0.0
		for i := range yTrue {
			ssRes += (yTrue[i] - yPred[i]) * (yTrue[i] - yPred[i])
			ssTot += (yTrue[i] - meanY) * (yTrue[i] - meanY)
		}
		if ssTot == 0 {
			return 0
		}
		return 1 - ssRes/ssTot
	default: // root_mean_squared_error
		sum := 0.0
		for i := range yTrue {
			sum += (yTrue[i] - yPred[i]) * (yTrue[i] - yPred[i])
		}
		return -math.Sqrt(sum / float64(len(yTrue)))
	}
}

// scoreClassification 分类评分，f1为macro-F1，其余按准确率
func scoreClassification(metric string, yTrue, yPred []string) float64 {
	switch metric {
	case "f1":
		return macroF1(yTrue, yPred)
	default: // accuracy
		correct := 0
		for i := range yTrue {
			if yTrue[i] == yPred[i] {
				correct++
			}
		}
		return float64(correct) / float64(len(yTrue))
	}
}

func macroF1(yTrue, yPred []string) float64 {
	labels := make(map[string]bool)
	for _, y := range yTrue {
		labels[y] = true
	}
	sum, n := 0.0, 0
	for label := range labels {
		tp, fp, fn := 0, 0, 0
		for i := range yTrue {
			switch {
			case yTrue[i] == label && yPred[i] == label:
				tp++
			case yTrue[i] != label && yPred[i] == label:
				fp++
			case yTrue[i] == label && yPred[i] != label:
				fn++
			}
		}
		denom := float64(2*tp + fp + fn)
		if denom > 0 {
			sum += 2 * float64(tp) / denom
		}
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
