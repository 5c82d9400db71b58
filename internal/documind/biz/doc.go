// Package biz 提供问答服务的业务逻辑层。
//
// 该包按流水线阶段拆分组件：
//   - Chunker: 文本分块（语义边界、带重叠）
//   - Ingestor: 文档摄取（分块、嵌入、入库，按文档串行）
//   - HybridRetriever: 混合检索（向量 + 关键词，倒数排名融合）
//   - Reranker: 可组合的重排序阶段
//   - Generator: 基于上下文的答案生成
//   - CitationExtractor: 引用抽取与置信度评分
//   - Pipeline: 状态机编排以上阶段，含哈希去重
//   - Service: 组合以上组件，提供统一的服务接口
package biz
